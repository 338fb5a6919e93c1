package pipeline

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mlife-core/platform/pkg/common/logger"
	"github.com/mlife-core/platform/pkg/common/models"
	"github.com/mlife-core/platform/pkg/storage"
)

type HTTPHandler struct {
	service         *Service
	maxBody         int64
	defaultStrategy models.Strategy
}

func NewHTTPHandler(service *Service, maxBody int64, defaultStrategy models.Strategy) *HTTPHandler {
	return &HTTPHandler{service: service, maxBody: maxBody, defaultStrategy: defaultStrategy}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/runs", h.handleRun).Methods(http.MethodPost)
	router.HandleFunc("/runs/{id}", h.handleResult).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}/status", h.handleStatus).Methods(http.MethodGet)
}

// handleRun takes the raw export as the request body and the run
// parameters from the query string.
func (h *HTTPHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	req, err := ParseRunRequest(r.URL.Query(), h.defaultStrategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "export exceeds the request size limit")
			return
		}
		logger.Log.WithError(err).Warn("failed to read export body")
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.service.Run(r.Context(), raw, req)
	if err != nil {
		if IsInputError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Log.WithError(err).Error("failed to process export")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (h *HTTPHandler) handleResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	res, err := h.service.Result(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		logger.Log.WithError(err).Error("failed to load run")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.service.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		logger.Log.WithError(err).Error("failed to fetch run status")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
