package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/relaycrm-backend/api/responses"
	pkgerrors "github.com/angelmondragon/relaycrm-backend/pkg/errors"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
)

type windowLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// SweepRateLimitPolicy bounds how often the sweep endpoint may be hit for one
// tenant, or for the all-tenant sweep.
type SweepRateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

func (p SweepRateLimitPolicy) enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

// SweepRateLimit applies a Redis fixed window keyed by the tenant_id in the
// request body. Limiter failures let the request through; Evaluate is safe to
// repeat and the window only sheds load.
func SweepRateLimit(policy SweepRateLimitPolicy, store windowLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scope := sweepScope(body)
			allowed, count, err := store.FixedWindowAllow(ctx, scope, int64(policy.Limit), policy.Window)
			if err != nil {
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "sweep.rate_limit.unavailable")
				}
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"scope":          scope,
						"attempts":       count,
						"limit":          policy.Limit,
						"window_seconds": int(policy.Window.Seconds()),
					}), "sweep.rate_limit.blocked")
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(policy.Window.Seconds())))
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "sweep rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sweepScope(payload []byte) string {
	var body struct {
		TenantID string `json:"tenant_id"`
	}
	if len(bytes.TrimSpace(payload)) > 0 {
		_ = json.Unmarshal(payload, &body)
	}
	if tenant := strings.ToLower(strings.TrimSpace(body.TenantID)); tenant != "" {
		return "sweep:" + tenant
	}
	return "sweep:all"
}
