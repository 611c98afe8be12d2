package accounting

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackoliverdev/centrus/addon"
	"github.com/jackoliverdev/centrus/auth"
	resp "github.com/jackoliverdev/centrus/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	AccountingManager *Manager
	Logger            *zap.Logger
}

// Service is the plan accounting API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the plan accounting API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.AccountingManager == nil {
		return nil, fmt.Errorf("nil AccountingManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) getPlanView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("OrganizationID", claims.OrganizationID))

	view, err := s.AccountingManager.EffectivePlanView(ctx, claims.OrganizationID)
	if err != nil {
		logger.Error("Unable to compose effective plan view",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get details about your plan"))
		return
	}

	resp.WriteResponse(w, r, view)
}

// OverrideRequest is the admin request to set absolute addon quantities
type OverrideRequest struct {
	Messages *int64 `json:"messages" validate:"omitempty,min=0"`
	Storage  *int64 `json:"storage" validate:"omitempty,min=0"`
	Users    *int64 `json:"users" validate:"omitempty,min=0"`
}

func (s *Service) overrideAddons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	if !claims.Admin {
		resp.WriteError(w, r, resp.ErrForbidden())
		return
	}

	logger := s.Logger.With(
		zap.String("OrganizationID", claims.OrganizationID),
		zap.String("UserID", claims.UserID),
	)

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrValidation())
		return
	}

	ledger, err := s.AccountingManager.OverrideAddon(ctx, claims.OrganizationID, addon.Quantities{
		Messages: req.Messages,
		Storage:  req.Storage,
		Users:    req.Users,
	})
	if err != nil {
		if errors.Is(err, addon.ErrNegativeQuantity) {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Addon quantities must not be negative"))
			return
		}
		logger.Error("Unable to override addon quantities",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot update addon quantities"))
		return
	}

	resp.WriteResponse(w, r, ledger)
}

// Router returns the routes for plan view composition and admin overrides
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/", s.getPlanView)
	r.Post("/addons", s.overrideAddons)

	return r
}
