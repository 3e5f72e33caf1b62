package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/DinerGo/pkg/logger"
)

// RequestLogger stores a request-scoped logger carrying correlation_id,
// user_id and trace ids in the context; handlers read it with
// logger.FromContext. Mount it after RequestLogging, Tracing and Auth.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if claims := ClaimsFromContext(ctx); claims != nil {
				ctx = logger.WithUserID(ctx, claims.UserID)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
