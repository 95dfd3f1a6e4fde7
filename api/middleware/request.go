package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/angelmondragon/forestcarbon-backend/api/responses"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/logger"
)

// RequestContext echoes the id minted by chi's RequestID middleware and
// carries it on the log context. It must run after chimw.RequestID.
func RequestContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reqID := chimw.GetReqID(ctx)
			if reqID != "" {
				w.Header().Set(chimw.RequestIDHeader, reqID)
				if logg != nil {
					ctx = logg.WithRequestID(ctx, reqID)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Recover turns a handler panic into an INTERNAL_ERROR envelope and logs the
// stack.
func Recover(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithFields(ctx, map[string]any{
						"panic": fmt.Sprint(rec),
						"stack": string(debug.Stack()),
					})
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, fmt.Errorf("panic: %v", rec), "handler panicked"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
