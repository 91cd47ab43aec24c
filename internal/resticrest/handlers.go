package resticrest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tonimelisma/restic-pan123-backend/internal/pan123"
	"github.com/tonimelisma/restic-pan123-backend/internal/resticrepo"
)

// resticRESTv2ContentType is the content-type required on listing
// responses.
const resticRESTv2ContentType = "application/vnd.x.restic.rest.v2"

type handlers struct {
	surface *resticrepo.Surface
	logger  *slog.Logger
}

func (h *handlers) handleInitOrReject(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("create") != "true" {
		writeError(w, fmt.Errorf("%w: POST / requires create=true", resticrepo.ErrBadRequest))
		return
	}

	if err := h.surface.InitRepository(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleRootDelete implements the contract's explicit "DELETE / is not
// implemented" rule.
func (h *handlers) handleRootDelete(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNotImplemented)
}

func (h *handlers) handleConfigHead(w http.ResponseWriter, r *http.Request) {
	h.stat(w, r, resticrepo.TypeConfig, "config")
}

func (h *handlers) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, resticrepo.TypeConfig, "config")
}

func (h *handlers) handleConfigPost(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, resticrepo.TypeConfig, "config")
}

func (h *handlers) handleList(w http.ResponseWriter, r *http.Request) {
	t, err := resticrepo.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, err)
		return
	}

	entries, err := h.surface.List(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}

	if entries == nil {
		entries = []resticrepo.Entry{}
	}

	w.Header().Set("Content-Type", resticRESTv2ContentType)
	_ = json.NewEncoder(w).Encode(entries)
}

func (h *handlers) handleHead(w http.ResponseWriter, r *http.Request) {
	t, err := resticrepo.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, err)
		return
	}

	h.stat(w, r, t, chi.URLParam(r, "name"))
}

func (h *handlers) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := resticrepo.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, err)
		return
	}

	h.download(w, r, t, chi.URLParam(r, "name"))
}

func (h *handlers) handlePost(w http.ResponseWriter, r *http.Request) {
	t, err := resticrepo.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, err)
		return
	}

	h.upload(w, r, t, chi.URLParam(r, "name"))
}

func (h *handlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	t, err := resticrepo.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, err)
		return
	}

	// DELETE is idempotent: absent is 200, not 404.
	if err := h.surface.Delete(r.Context(), t, chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *handlers) stat(w http.ResponseWriter, r *http.Request, t resticrepo.Type, name string) {
	node, ok, err := h.surface.Stat(r.Context(), t, name)
	if err != nil {
		writeError(w, err)
		return
	}

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Length", fmt.Sprintf("%d", node.Size))
	w.WriteHeader(http.StatusOK)
}

func (h *handlers) upload(w http.ResponseWriter, r *http.Request, t resticrepo.Type, name string) {
	body := http.MaxBytesReader(w, r.Body, MaxUploadBytes)

	content, err := io.ReadAll(body)
	if err != nil {
		writeError(w, fmt.Errorf("%w: reading request body: %v", resticrepo.ErrBadRequest, err))
		return
	}

	if _, err := h.surface.Upload(r.Context(), t, name, content); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *handlers) download(w http.ResponseWriter, r *http.Request, t resticrepo.Type, name string) {
	node, ok, err := h.surface.Stat(r.Context(), t, name)
	if err != nil {
		writeError(w, err)
		return
	}

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	rng, status := parseRange(r.Header.Get("Range"), node.Size)

	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, node.Size))
		w.Header().Set("Content-Length", fmt.Sprintf("%d", rng.End-rng.Start+1))
	} else {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", node.Size))
	}

	w.WriteHeader(status)

	if _, _, err := h.surface.Download(r.Context(), t, name, rng, w); err != nil {
		h.logger.Error("streaming download failed", slog.String("error", err.Error()))
	}
}

// writeError maps a resticrepo/namespace/pan123 sentinel error to its HTTP
// status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, resticrepo.ErrNotFound), errors.Is(err, pan123.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, resticrepo.ErrBadRequest), errors.Is(err, pan123.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, pan123.ErrAuth):
		status = http.StatusUnauthorized
	case errors.Is(err, pan123.ErrTransport):
		status = http.StatusBadGateway
	default:
		var apiErr *pan123.APIError
		if errors.As(err, &apiErr) {
			status = http.StatusBadGateway
		}
	}

	w.WriteHeader(status)
}
