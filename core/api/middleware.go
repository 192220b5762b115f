package api

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/logger"
)

type errSlot struct{ err error }

type errSlotKey struct{}

// setErr hands the handler error to the summary line.
func setErr(r *http.Request, err error) {
	if slot, ok := r.Context().Value(errSlotKey{}).(*errSlot); ok {
		slot.err = err
	}
}

// requestContext attaches the chi request id as rid.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if rid := middleware.GetReqID(ctx); rid != "" {
			ctx = logger.WithRID(ctx, rid)
		}
		ctx = logger.WithLogger(ctx, logger.API)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// summary logs one line per request.
func summary(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		slot := &errSlot{}
		ctx := context.WithValue(r.Context(), errSlotKey{}, slot)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		if rctx := chi.RouteContext(ctx); rctx != nil {
			ctx = logger.WithHandler(ctx, rctx.RoutePattern())
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		outcome := "ok"
		switch {
		case status >= 500:
			level, outcome = slog.LevelError, "fail"
		case status >= 400:
			level, outcome = slog.LevelWarn, "fail"
		}
		if r.URL.Path == "/healthz" && status < 400 {
			level = slog.LevelDebug
		}
		attrs := []slog.Attr{
			slog.String("outcome", outcome),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("http_status", status),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("took", logger.RoundMS(logger.Took(start))),
		}
		if slot.err != nil {
			attrs = append(attrs,
				slog.String("err", logger.SanitizeLimit(slot.err.Error(), 256)),
				slog.String("err_code", apperr.Code(slot.err)),
			)
		}
		logger.LogEvent(ctx, logger.API, level, "http.request", attrs...)
	})
}

// recoverer turns a handler panic into a 500.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.LogEvent(r.Context(), logger.API, slog.LevelError, "api.panic",
					slog.Any("err", rec),
					slog.String("stack", string(debug.Stack())),
				)
				writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
