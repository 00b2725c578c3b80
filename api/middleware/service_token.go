package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/angelmondragon/relaycrm-backend/api/responses"
	"github.com/angelmondragon/relaycrm-backend/api/validators"
	pkgerrors "github.com/angelmondragon/relaycrm-backend/pkg/errors"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
)

// ServiceToken guards internal routes with a shared bearer secret. caller is
// recorded on the context and in logs.
func ServiceToken(secret, caller string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := validators.BearerToken(r.Header.Get("Authorization"))
			if err != nil || secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid service credentials"))
				return
			}
			ctx := context.WithValue(r.Context(), ctxCaller, caller)
			if logg != nil {
				ctx = logg.WithField(ctx, "service_caller", caller)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
