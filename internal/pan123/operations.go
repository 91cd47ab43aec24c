package pan123

import (
	"context"
	"crypto/md5" //nolint:gosec // upstream protocol mandates MD5 specifically, not a security use
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
)

// ListPage fetches one page of a directory listing. useListClient should
// always be true for this call — pagination can legitimately take minutes
// on large shards, so the per-request timeout is disabled.
func (c *Client) ListPage(ctx context.Context, parentFileID, lastFileID int64) ([]FileEntry, int64, error) {
	q := url.Values{}
	q.Set("parentFileId", strconv.FormatInt(parentFileID, 10))
	q.Set("limit", "100")

	if lastFileID != 0 {
		q.Set("lastFileId", strconv.FormatInt(lastFileID, 10))
	}

	var data listFilesData
	if err := c.get(ctx, fileListPath+"?"+q.Encode(), true, &data); err != nil {
		return nil, 0, err
	}

	return data.FileList, data.LastFileID, nil
}

// ListAll pages through a full directory listing, filtering out trashed
// entries. Used by warm-up and by mkdir race reconciliation.
func (c *Client) ListAll(ctx context.Context, parentFileID int64) ([]FileEntry, error) {
	var all []FileEntry

	var lastFileID int64

	for {
		page, next, err := c.ListPage(ctx, parentFileID, lastFileID)
		if err != nil {
			return nil, err
		}

		for _, e := range page {
			if !e.IsTrashed() {
				all = append(all, e)
			}
		}

		if next == listTerminator {
			return all, nil
		}

		lastFileID = next
	}
}

// MkdirResult is the outcome of a Mkdir call.
type MkdirResult struct {
	DirID int64
}

// mkdirDuplicateErr is returned when the upstream reports code 1 (duplicate
// name) so the namespace engine can trigger reconciliation without string-
// matching the message.
var mkdirDuplicateErr = fmt.Errorf("pan123: duplicate directory name")

// Mkdir creates a directory named name under parentID. On the upstream's
// duplicate-name response (code 1), returns mkdirDuplicateErr — check with
// errors.Is.
func (c *Client) Mkdir(ctx context.Context, parentID int64, name string) (MkdirResult, error) {
	var data mkdirData

	err := c.postJSON(ctx, mkdirPath, mkdirRequest{Name: name, ParentID: parentID}, &data)
	if err != nil {
		var apiErr *APIError
		if isDuplicateNameError(err, &apiErr) {
			return MkdirResult{}, mkdirDuplicateErr
		}

		return MkdirResult{}, err
	}

	return MkdirResult{DirID: data.DirID}, nil
}

// IsMkdirDuplicate reports whether err is the duplicate-name outcome of
// Mkdir.
func IsMkdirDuplicate(err error) bool {
	return err == mkdirDuplicateErr
}

func isDuplicateNameError(err error, out **APIError) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}

	*out = apiErr

	return apiErr.Code == duplicateNameCode
}

// uploadDomain returns the cached upload host, fetching and caching it on
// first use. Concurrent first-fetches may each call upstream; only the
// first write wins, which is fine because the value is stable.
func (c *Client) uploadDomainHost(ctx context.Context) (string, error) {
	if p := c.uploadDomain.Load(); p != nil {
		return *p, nil
	}

	var hosts uploadDomainData
	if err := c.get(ctx, uploadDomainPath, false, &hosts); err != nil {
		return "", fmt.Errorf("fetching upload domain: %w", err)
	}

	if len(hosts) == 0 {
		return "", fmt.Errorf("%w: upload domain list is empty", ErrInternal)
	}

	host := hosts[0]
	c.uploadDomain.CompareAndSwap(nil, &host)

	if p := c.uploadDomain.Load(); p != nil {
		return *p, nil
	}

	return host, nil
}

// UploadResult is the outcome of a single-shot upload.
type UploadResult struct {
	FileID int64
	ETag   string
	Size   int64
}

// Upload performs the single-shot multipart upload with duplicate=2
// (atomic overwrite) semantics: MD5-hash content, resolve the upload host,
// POST the multipart form, and assert the upstream reports the upload as
// completed (chunked/resumable upload is out of scope).
func (c *Client) Upload(ctx context.Context, parentID int64, filename string, content []byte) (UploadResult, error) {
	sum := md5.Sum(content) //nolint:gosec // protocol-mandated checksum, not a security boundary
	etag := hex.EncodeToString(sum[:])

	host, err := c.uploadDomainHost(ctx)
	if err != nil {
		return UploadResult{}, err
	}

	fields := map[string]string{
		"parentFileID": strconv.FormatInt(parentID, 10),
		"filename":     filename,
		"etag":         etag,
		"size":         strconv.Itoa(len(content)),
		"duplicate":    "2",
	}

	var data singleUploadData
	if err := c.multipartUpload(ctx, host+uploadSinglePath, fields, "file", filename, content, &data); err != nil {
		return UploadResult{}, err
	}

	if !data.Completed {
		return UploadResult{}, fmt.Errorf("%w: upstream reported incomplete upload (chunked upload unsupported)", ErrInternal)
	}

	return UploadResult{FileID: data.FileID, ETag: etag, Size: int64(len(content))}, nil
}

// GetDownloadURL resolves a signed, time-limited download URL for fileID.
// Upstream code 5066 is remapped to ErrNotFound.
func (c *Client) GetDownloadURL(ctx context.Context, fileID int64) (string, error) {
	q := url.Values{}
	q.Set("fileId", strconv.FormatInt(fileID, 10))

	var data downloadInfoData

	err := c.get(ctx, downloadInfoPath+"?"+q.Encode(), false, &data)
	if err != nil {
		var apiErr *APIError
		if asAPIError(err, &apiErr) && apiErr.Code == downloadNotFoundCode {
			return "", fmt.Errorf("%w: file %d", ErrNotFound, fileID)
		}

		return "", err
	}

	return data.DownloadURL, nil
}

func asAPIError(err error, out **APIError) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}

	*out = apiErr

	return true
}

// Trash moves the given file IDs to the upstream trash.
func (c *Client) Trash(ctx context.Context, fileIDs []int64) error {
	return c.postJSON(ctx, trashPath, fileIDsRequest{FileIDs: fileIDs}, nil)
}

// Delete permanently deletes the given (already-trashed) file IDs.
func (c *Client) Delete(ctx context.Context, fileIDs []int64) error {
	return c.postJSON(ctx, deletePath, fileIDsRequest{FileIDs: fileIDs}, nil)
}

// Move relocates fileIDs to toParentID. Callers must chunk fileIDs to
// moveBatchLimit; Move itself does not chunk, so a caller-level mistake
// surfaces as an upstream error rather than being silently truncated.
func (c *Client) Move(ctx context.Context, fileIDs []int64, toParentID int64) error {
	if len(fileIDs) > moveBatchLimit {
		return fmt.Errorf("%w: move batch of %d exceeds upstream limit of %d", ErrBadRequest, len(fileIDs), moveBatchLimit)
	}

	return c.postJSON(ctx, movePath, moveRequest{FileIDs: fileIDs, ToParentFileID: toParentID}, nil)
}

// MoveBatchLimit exposes moveBatchLimit to callers that need to chunk
// (namespace engine move_files, migration tool).
const MoveBatchLimit = moveBatchLimit
