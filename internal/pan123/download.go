package pan123

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// ByteRange is a half-open-by-convention inclusive byte range, passed
// through verbatim as `Range: bytes=start-end`.
type ByteRange struct {
	Start int64
	End   int64
}

// Download resolves fileID's signed download URL and streams its content
// (optionally range-restricted) to w. Returns the HTTP status actually
// observed (200 or 206) and the number of bytes copied. The signed URL is
// pre-authenticated by the upstream, so no Authorization header is added,
// and the URL itself is never logged.
func (c *Client) Download(ctx context.Context, fileID int64, rng *ByteRange, w io.Writer) (int, int64, error) {
	downloadURL, err := c.GetDownloadURL(ctx, fileID)
	if err != nil {
		return 0, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, http.NoBody)
	if err != nil {
		return 0, 0, fmt.Errorf("building download request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	if rng != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End))
	}

	resp, err := c.metaHTTP.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return resp.StatusCode, 0, fmt.Errorf("%w: download returned HTTP %d", ErrInternal, resp.StatusCode)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return resp.StatusCode, n, fmt.Errorf("streaming download content: %w", err)
	}

	return resp.StatusCode, n, nil
}
