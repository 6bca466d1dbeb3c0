package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cropsight/platform/pkg/common/logger"
	"github.com/cropsight/platform/pkg/geodata"
	"github.com/cropsight/platform/pkg/gateway/middleware"
	"github.com/cropsight/platform/pkg/observability/metrics"
	"github.com/gorilla/mux"
)

const multipartOverhead = 1 << 20

var serializeFailureLine = []byte(`{"status":"error","message":"Failed to serialize workflow event."}` + "\n")

type HTTPHandler struct {
	service    *Service
	normalizer *geodata.Normalizer
	validator  *Validator

	streams      context.Context
	closeStreams context.CancelFunc
}

func NewHTTPHandler(service *Service, normalizer *geodata.Normalizer, validator *Validator) *HTTPHandler {
	streams, closeStreams := context.WithCancel(context.Background())
	return &HTTPHandler{
		service:      service,
		normalizer:   normalizer,
		validator:    validator,
		streams:      streams,
		closeStreams: closeStreams,
	}
}

// CloseStreams ends every open progress stream and refuses new ones. Register
// it with http.Server.RegisterOnShutdown so Shutdown is not held open by
// long-lived stream connections.
func (h *HTTPHandler) CloseStreams() {
	h.closeStreams()
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/ingest", h.handleUpload).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{runId}/stream", h.handleStream).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.reject(w, http.StatusUnauthorized, "unauthenticated", errSignInRequired)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.normalizer.MaxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, http.StatusRequestEntityTooLarge, "too_large", geodata.TooLarge(h.normalizer.MaxBytes))
			return
		}
		logger.Log.WithError(err).Warn("invalid upload form")
		h.reject(w, http.StatusBadRequest, "invalid_form", errDatasetMissing)
		return
	}
	defer r.MultipartForm.RemoveAll()

	captureDate, err := h.validator.CaptureDate(r.FormValue("captureDate"))
	if err != nil {
		h.reject(w, http.StatusBadRequest, "capture_date", err)
		return
	}

	file, header, err := r.FormFile("dataset")
	if err != nil || h.validator.Dataset(header.Filename) != nil {
		h.reject(w, http.StatusBadRequest, "missing_dataset", errDatasetMissing)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.normalizer.MaxBytes+1))
	if err != nil {
		logger.Log.WithError(err).Error("failed to read uploaded dataset")
		h.reject(w, http.StatusInternalServerError, "read_failed", errors.New("Unexpected error while processing the upload."))
		return
	}

	collection, err := h.normalizer.Normalize(data, header.Filename)
	if err != nil {
		var formatErr *geodata.FormatError
		if errors.As(err, &formatErr) {
			status := http.StatusBadRequest
			if formatErr.Kind == geodata.PayloadTooLarge {
				status = http.StatusRequestEntityTooLarge
			}
			h.reject(w, status, string(formatErr.Kind), err)
			return
		}
		logger.Log.WithError(err).Error("failed to normalize uploaded dataset")
		h.reject(w, http.StatusInternalServerError, "normalize_failed", errors.New("Unexpected error while processing the upload."))
		return
	}
	if err := h.validator.Features(collection); err != nil {
		h.reject(w, http.StatusBadRequest, "feature_count", err)
		return
	}

	runID, err := h.service.Submit(r.Context(), Input{
		CaptureDate: captureDate.Format("2006-01-02T15:04:05.000Z07:00"),
		DatasetName: header.Filename,
		Features:    collection,
		User:        user,
	})
	if err != nil {
		logger.Log.WithError(err).Error("failed to start ingestion workflow")
		h.reject(w, http.StatusInternalServerError, "start_failed", errors.New("Unexpected error while processing the upload."))
		return
	}

	logger.WithRun(runID).WithFields(map[string]interface{}{
		"dataset":  header.Filename,
		"features": collection.Len(),
		"user_id":  user.ID,
	}).Info("Ingestion workflow started")

	writeJSON(w, http.StatusAccepted, UploadResult{
		Status:        UploadSuccess,
		Message:       fmt.Sprintf("Ingestion workflow started for %s. Track run %s.", header.Filename, runID),
		WorkflowRunID: runID,
		DatasetName:   header.Filename,
	})
}

func (h *HTTPHandler) reject(w http.ResponseWriter, status int, reason string, err error) {
	metrics.UploadsRejected.WithLabelValues(reason).Inc()
	message := err.Error()
	writeJSON(w, status, UploadResult{
		Status:  UploadError,
		Message: message,
		Errors:  []string{message},
	})
}

// handleStream relays a run's progress events as newline-delimited JSON
// until the run's stream closes or the client goes away.
func (h *HTTPHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(mux.Vars(r)["runId"])
	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing workflow run ID."})
		return
	}

	if h.streams.Err() != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Server is shutting down."})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(h.streams, cancel)
	defer stop()

	reader, err := h.service.OpenStream(ctx, runID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	defer reader.Close()

	metrics.ProgressReaders.Inc()
	defer metrics.ProgressReaders.Dec()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		event, err := reader.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.WithRun(runID).WithError(err).Warn("Progress stream read failed")
			}
			return
		}

		line, err := json.Marshal(event)
		if err != nil {
			line = serializeFailureLine
		} else {
			line = append(line, '\n')
		}
		if _, err := w.Write(line); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
