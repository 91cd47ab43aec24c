package resticrest

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tonimelisma/restic-pan123-backend/internal/pan123"
)

// parseRange parses a `Range: bytes=...` header, including the `bytes=-N`
// suffix form for "last N bytes". A missing or malformed range falls back
// to a full download (200). end is clamped to size-1.
func parseRange(header string, size int64) (*pan123.ByteRange, int) {
	if header == "" {
		return nil, http.StatusOK
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, http.StatusOK
	}

	// Only a single range is supported; multi-range requests fall back to
	// a full download rather than a multipart/byteranges response.
	if strings.Contains(spec, ",") {
		return nil, http.StatusOK
	}

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return nil, http.StatusOK
	}

	if startStr == "" {
		// Suffix form: last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil, http.StatusOK
		}

		start := size - n
		if start < 0 {
			start = 0
		}

		return &pan123.ByteRange{Start: start, End: size - 1}, http.StatusPartialContent
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return nil, http.StatusOK
	}

	end := size - 1

	if endStr != "" {
		parsedEnd, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || parsedEnd < start {
			return nil, http.StatusOK
		}

		end = min(parsedEnd, size-1)
	}

	return &pan123.ByteRange{Start: start, End: end}, http.StatusPartialContent
}
