package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/relaycrm-backend/api/middleware"
	"github.com/angelmondragon/relaycrm-backend/api/responses"
	"github.com/angelmondragon/relaycrm-backend/api/validators"
	"github.com/angelmondragon/relaycrm-backend/internal/autorecharge"
	"github.com/angelmondragon/relaycrm-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/relaycrm-backend/pkg/errors"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
)

type autoRechargeSettingsRequest struct {
	MinimumBalance  *int64 `json:"minimum_balance" validate:"required,gte=0"`
	RechargeAmount  *int64 `json:"recharge_amount" validate:"required,gt=0"`
	IsEnabled       *bool  `json:"is_enabled" validate:"required"`
	CooldownSeconds *int64 `json:"cooldown_seconds,omitempty" validate:"omitempty,gt=0,lte=2592000"`
}

type autoRechargeSettingsResponse struct {
	Configured      bool       `json:"configured"`
	MinimumBalance  int64      `json:"minimum_balance"`
	RechargeAmount  int64      `json:"recharge_amount"`
	IsEnabled       bool       `json:"is_enabled"`
	CooldownSeconds int64      `json:"cooldown_seconds"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// AutoRechargeSettingsFetch returns the caller tenant's settings. Tenants that
// never configured auto-recharge get a disabled placeholder.
func AutoRechargeSettingsFetch(svc autorecharge.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := requireTenant(w, r, svc != nil, logg)
		if !ok {
			return
		}

		settings, err := svc.GetSettings(r.Context(), tenantID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				responses.WriteSuccess(w, autoRechargeSettingsResponse{Configured: false})
				return
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toAutoRechargeSettingsResponse(settings))
	}
}

// AutoRechargeSettingsUpdate creates or replaces the caller tenant's settings.
func AutoRechargeSettingsUpdate(svc autorecharge.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := requireTenant(w, r, svc != nil, logg)
		if !ok {
			return
		}

		var req autoRechargeSettingsRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := autorecharge.SettingsInput{
			MinimumBalance: *req.MinimumBalance,
			RechargeAmount: *req.RechargeAmount,
			IsEnabled:      *req.IsEnabled,
		}
		if req.CooldownSeconds != nil {
			cooldown := time.Duration(*req.CooldownSeconds) * time.Second
			input.Cooldown = &cooldown
		}

		settings, err := svc.Configure(r.Context(), tenantID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			ctx := logg.WithUserID(r.Context(), middleware.UserIDFromContext(r.Context()))
			logg.Info(logg.WithFields(ctx, map[string]any{
				"minimum_balance": settings.MinimumBalance,
				"recharge_amount": settings.RechargeAmount,
				"is_enabled":      settings.IsEnabled,
			}), "auto-recharge settings updated")
		}
		responses.WriteSuccess(w, toAutoRechargeSettingsResponse(settings))
	}
}

func requireTenant(w http.ResponseWriter, r *http.Request, available bool, logg *logger.Logger) (uuid.UUID, bool) {
	if !available {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auto-recharge service unavailable"))
		return uuid.Nil, false
	}
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "tenant context missing"))
		return uuid.Nil, false
	}
	return tenantID, true
}

func toAutoRechargeSettingsResponse(s *models.AutoRechargeSettings) autoRechargeSettingsResponse {
	updated := s.UpdatedAt.UTC()
	resp := autoRechargeSettingsResponse{
		Configured:      true,
		MinimumBalance:  s.MinimumBalance,
		RechargeAmount:  s.RechargeAmount,
		IsEnabled:       s.IsEnabled,
		CooldownSeconds: s.CooldownSeconds,
		UpdatedAt:       &updated,
	}
	if s.LastTriggeredAt != nil {
		last := s.LastTriggeredAt.UTC()
		resp.LastTriggeredAt = &last
	}
	return resp
}
