package middleware

import (
	"fmt"
	"net/http"

	"github.com/davidecorsi/beatstore-backend/api/responses"
	pkgerrors "github.com/davidecorsi/beatstore-backend/pkg/errors"
	"github.com/davidecorsi/beatstore-backend/pkg/logger"
)

// Recoverer turns handler panics into a logged 500 instead of a dropped
// connection. The provider retries 5xx, which is the behavior we want for an
// unexpected crash mid-settlement.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("panic: %v", rec)
					ctx := r.Context()
					if logg != nil {
						ctx = logg.WithFields(ctx, map[string]any{"panic": rec})
						logg.Error(ctx, "panic.recovered", err)
					}
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
