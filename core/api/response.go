package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/logger"
)

const maxBodyBytes = 1 << 20

var fallbackError = []byte(`{"detail":"internal server error"}`)

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		logger.API.Error("encode response failed", slog.String("event", "api.encode"), slog.String("err", err.Error()))
		body, status = fallbackError, http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError maps err onto a status. Server-side failures get a generic detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	detail := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		logger.LogEvent(r.Context(), logger.API, slog.LevelError, "api.error",
			slog.String("path", r.URL.Path),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		detail = "internal server error"
	}
	if status == http.StatusBadGateway {
		detail = "upstream service unavailable"
	}
	setErr(r, err)
	writeJSON(w, status, errorBody{Detail: detail})
}

func noContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalid("request body is required")
		}
		return apperr.Invalid("malformed request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("%s must be a positive integer", name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Invalid("%s must be an integer", name)
	}
	return v, nil
}
