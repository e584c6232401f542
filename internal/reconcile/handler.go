package reconcile

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// DefaultMaxUpload caps uploaded batch size in bytes.
const DefaultMaxUpload = 5 << 20

// Enqueuer schedules a batch for background processing.
type Enqueuer interface {
	EnqueueReconcile(ctx context.Context, source string, direction ledger.Direction, data []byte) (string, error)
}

// Handler exposes batch reconciliation over HTTP.
type Handler struct {
	logger     *slog.Logger
	reconciler *Reconciler
	enqueuer   Enqueuer
	maxUpload  int64
}

// NewHandler constructs the reconcile handler. enqueuer may be nil, which
// disables the async endpoint.
func NewHandler(logger *slog.Logger, reconciler *Reconciler, enqueuer Enqueuer, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUpload
	}
	return &Handler{logger: logger, reconciler: reconciler, enqueuer: enqueuer, maxUpload: maxUpload}
}

// MountRoutes registers reconcile routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{direction}", h.handleReconcile)
	r.Post("/{direction}/async", h.handleEnqueue)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	direction, err := ledger.ParseDirection(chi.URLParam(r, "direction"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	source, data, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	summary, err := h.reconciler.Reconcile(r.Context(), Request{Source: source, Direction: direction, Input: bytes.NewReader(data)})
	if err != nil {
		if !httpx.IsExpected(err) {
			h.logger.Error("reconcile failed", slog.String("source", source), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "background processing is not configured")
		return
	}
	direction, err := ledger.ParseDirection(chi.URLParam(r, "direction"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	source, data, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	taskID, err := h.enqueuer.EnqueueReconcile(r.Context(), source, direction, data)
	if err != nil {
		h.logger.Error("enqueue reconcile failed", slog.String("source", source), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": "queued", "source": source})
}

// readUpload accepts a multipart "file" field or a raw CSV body.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	source := strings.TrimSpace(r.URL.Query().Get("source"))

	var body io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			if tooLarge(err) {
				h.tooLarge(w)
				return "", nil, false
			}
			httpx.ValidationProblem(w, map[string]string{"file": "is required"})
			return "", nil, false
		}
		defer file.Close()
		body = file
		if source == "" {
			source = header.Filename
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		if tooLarge(err) {
			h.tooLarge(w)
			return "", nil, false
		}
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "could not read upload")
		return "", nil, false
	}
	if source == "" {
		source = "upload.csv"
	}
	return filepath.Base(source), data, true
}

func (h *Handler) tooLarge(w http.ResponseWriter) {
	httpx.Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", "upload exceeds the configured limit")
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
