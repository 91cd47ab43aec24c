package pan123

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync/atomic"
	"time"
)

// DefaultBaseURL is the 123pan Open Platform API base.
const DefaultBaseURL = "https://open-api.123pan.com"

// Fixed retry policy: 3 additional attempts, 1-second delay, triggered on
// decoded envelope codes — not HTTP status, not exponential.
const (
	maxRetries  = 3
	retryDelay  = 1 * time.Second
	platformHdr = "open_platform"
	userAgent   = "restic-pan123-backend/1.0"
)

const (
	accessTokenPath  = "/api/v1/access_token"
	fileListPath     = "/api/v2/file/list"
	mkdirPath        = "/upload/v1/file/mkdir"
	uploadDomainPath = "/upload/v2/file/domain"
	uploadSinglePath = "/upload/v2/file/single/create"
	downloadInfoPath = "/api/v1/file/download_info"
	trashPath        = "/api/v1/file/trash"
	deletePath       = "/api/v1/file/delete"
	movePath         = "/api/v1/file/move"
)

// Client is an HTTP client for the 123pan Open Platform API. It owns token
// lifecycle, the fixed-delay envelope-code retry policy, and the upload
// host cache; GET/POST/multipart all funnel through doRetry so the policy
// is expressed exactly once instead of being duplicated per call site.
type Client struct {
	baseURL string

	// metaHTTP is used for all calls except paginated listings: 30-second
	// timeout. listHTTP has no timeout, because pagination over a large
	// shard can legitimately take minutes.
	metaHTTP *http.Client
	listHTTP *http.Client

	tokens TokenSource
	logger *slog.Logger

	uploadDomain atomic.Pointer[string]

	// sleepFunc waits between retries; overridden in tests to avoid delay.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client. metaHTTP and listHTTP should be constructed
// with and without a timeout respectively (see cmd/restic-pan123's
// metaHTTPClient/listHTTPClient helpers).
func NewClient(
	baseURL, clientID, clientSecret string, store TokenStore,
	metaHTTP, listHTTP *http.Client, logger *slog.Logger,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL:   baseURL,
		metaHTTP:  metaHTTP,
		listHTTP:  listHTTP,
		logger:    logger,
		sleepFunc: timeSleep,
	}

	c.tokens = newTokenManager(clientID, clientSecret, store, logger, c.unauthenticatedJSON)

	return c
}

// unauthenticatedJSON performs a single JSON POST with no Authorization
// header (used only for the access-token endpoint itself, which cannot be
// authenticated by a token it doesn't have yet). Not retried: a failure
// here is surfaced to the caller of Token()/ForceRefresh() directly.
func (c *Client) unauthenticatedJSON(ctx context.Context, method, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Platform", platformHdr)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.metaHTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	var env envelope
	if decodeErr := json.NewDecoder(resp.Body).Decode(&env); decodeErr != nil {
		return fmt.Errorf("%w: decoding envelope: %v", ErrInternal, decodeErr)
	}

	if env.Code != 0 {
		return &APIError{Code: env.Code, Message: env.Message, Err: classifyCode(env.Code)}
	}

	return decodeData(env.Data, out)
}

// attemptFunc performs one HTTP round trip and returns the decoded
// envelope. Transport errors (not HTTP-status errors) are returned as err;
// everything else the caller learns from the envelope's Code field.
type attemptFunc func(ctx context.Context, token string) (*envelope, error)

// doRetry is the single reified retry policy: a fixed 1-second delay, up to
// three additional attempts, triggered by the *decoded envelope's* code
// rather than HTTP status. 401 forces a token refresh and consumes a retry
// slot; 429 retries as-is; any other non-zero code returns immediately as a
// typed upstream error.
func (c *Client) doRetry(ctx context.Context, desc string, do attemptFunc) (*envelope, error) {
	var lastEnv *envelope

	for attempt := 0; ; attempt++ {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("obtaining token: %w", err)
		}

		env, err := do(ctx, tok)
		if err != nil {
			return nil, err
		}

		if env.Code == 0 {
			return env, nil
		}

		lastEnv = env

		if retried := c.maybeRetry(ctx, desc, env, attempt); retried {
			continue
		}

		break
	}

	return nil, &APIError{Code: lastEnv.Code, Message: lastEnv.Message, Err: classifyCode(lastEnv.Code)}
}

// maybeRetry inspects one failed envelope and, if the retry budget allows
// it, sleeps (and forces a token refresh on 401) before reporting whether
// the caller should loop again. Extracted from doRetry to keep the loop's
// control flow flat.
func (c *Client) maybeRetry(ctx context.Context, desc string, env *envelope, attempt int) bool {
	if attempt >= maxRetries {
		return false
	}

	switch env.Code {
	case rateLimitedCode:
		c.logger.Warn("retrying after rate limit",
			slog.String("call", desc), slog.Int("attempt", attempt+1))
	case unauthorizedCode:
		c.logger.Warn("retrying after auth error, forcing token refresh",
			slog.String("call", desc), slog.Int("attempt", attempt+1))

		if _, err := c.tokens.ForceRefresh(ctx); err != nil {
			c.logger.Error("forced token refresh failed", slog.String("error", err.Error()))
			return false
		}
	default:
		return false
	}

	if err := c.sleepFunc(ctx, retryDelay); err != nil {
		return false
	}

	return true
}

// Get performs an authenticated GET against path and decodes the envelope's
// data into out. httpClient selects metaHTTP (default) or listHTTP; pass
// useListClient=true for paginated listing calls (no per-request timeout).
func (c *Client) get(ctx context.Context, path string, useListClient bool, out any) error {
	env, err := c.doRetry(ctx, "GET "+path, func(ctx context.Context, tok string) (*envelope, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
		if reqErr != nil {
			return nil, fmt.Errorf("building request: %w", reqErr)
		}

		c.setAuthHeaders(req, tok)

		return c.doEnvelope(c.httpClientFor(useListClient), req)
	})
	if err != nil {
		return err
	}

	return decodeData(env.Data, out)
}

// postJSON performs an authenticated JSON POST against path.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	env, err := c.doRetry(ctx, "POST "+path, func(ctx context.Context, tok string) (*envelope, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
		if reqErr != nil {
			return nil, fmt.Errorf("building request: %w", reqErr)
		}

		req.Header.Set("Content-Type", "application/json")
		c.setAuthHeaders(req, tok)

		return c.doEnvelope(c.metaHTTP, req)
	})
	if err != nil {
		return err
	}

	return decodeData(env.Data, out)
}

// multipartUpload performs the single-shot multipart upload. url is the
// full upload-host-qualified endpoint; fields are the non-file form
// values; fileField/filename/content describe the file part.
func (c *Client) multipartUpload(
	ctx context.Context, url string, fields map[string]string,
	fileField, filename string, content []byte, out any,
) error {
	env, err := c.doRetry(ctx, "POST "+url, func(ctx context.Context, tok string) (*envelope, error) {
		body, contentType, buildErr := buildMultipartBody(fields, fileField, filename, content)
		if buildErr != nil {
			return nil, buildErr
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
		if reqErr != nil {
			return nil, fmt.Errorf("building request: %w", reqErr)
		}

		req.Header.Set("Content-Type", contentType)
		c.setAuthHeaders(req, tok)

		return c.doEnvelope(c.metaHTTP, req)
	})
	if err != nil {
		return err
	}

	return decodeData(env.Data, out)
}

func (c *Client) httpClientFor(useListClient bool) *http.Client {
	if useListClient {
		return c.listHTTP
	}

	return c.metaHTTP
}

func (c *Client) setAuthHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Platform", platformHdr)
	req.Header.Set("User-Agent", userAgent)
}

// doEnvelope executes one HTTP round trip and decodes the envelope.
// Non-2xx HTTP statuses without a parseable envelope are reported as
// transport errors; the retry policy operates on envelope codes, not HTTP
// status, so this function does not special-case any particular status.
func (c *Client) doEnvelope(client *http.Client, req *http.Request) (*envelope, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	var env envelope
	if decodeErr := json.NewDecoder(resp.Body).Decode(&env); decodeErr != nil {
		return nil, fmt.Errorf("%w: decoding envelope: %v", ErrInternal, decodeErr)
	}

	return &env, nil
}

// buildMultipartBody constructs a multipart/form-data body with the given
// plain fields plus a single file part.
func buildMultipartBody(
	fields map[string]string, fileField, filename string, content []byte,
) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("writing form field %q: %w", k, err)
		}
	}

	part, err := w.CreateFormFile(fileField, filename)
	if err != nil {
		return nil, "", fmt.Errorf("creating form file part: %w", err)
	}

	if _, err := part.Write(content); err != nil {
		return nil, "", fmt.Errorf("writing file part: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}

	return &buf, w.FormDataContentType(), nil
}

// decodeData re-marshals the envelope's raw Data field into out. The
// envelope is decoded once with Data left as `any`; this round-trips it
// through JSON a second time into the caller's concrete type. Cheap enough
// at these payload sizes and keeps every call site free of manual type
// assertions.
func decodeData(data any, out any) error {
	if out == nil || data == nil {
		return nil
	}

	buf, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: re-marshaling envelope data: %v", ErrInternal, err)
	}

	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("%w: decoding envelope data: %v", ErrInternal, err)
	}

	return nil
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
