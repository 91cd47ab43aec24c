package pan123

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload_StreamsContentAndHonorsRange(t *testing.T) {
	var gotRange string

	fileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")

		if gotRange != "" {
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte("ell"))
			return
		}

		_, _ = w.Write([]byte("hello world"))
	}))
	defer fileServer.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+accessTokenPath, tokenHandler)
	mux.HandleFunc("GET "+downloadInfoPath, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 0, "", downloadInfoData{DownloadURL: fileServer.URL})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, server)

	var buf bytes.Buffer

	status, n, err := c.Download(context.Background(), 1, nil, &buf)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 11, n)
	assert.Equal(t, "hello world", buf.String())

	buf.Reset()

	status, n, err = c.Download(context.Background(), 1, &ByteRange{Start: 1, End: 3}, &buf)
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, status)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, "bytes=1-3", gotRange)
}
