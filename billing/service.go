package billing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/jackoliverdev/centrus/accounting"
	"github.com/jackoliverdev/centrus/auth"
	"github.com/jackoliverdev/centrus/plan"
	resp "github.com/jackoliverdev/centrus/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v7"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// metadata keys carried through Stripe checkout sessions so the webhook can
// finalize state without guessing
const (
	metaOrganizationID = "organization_id"
	metaUserID         = "user_id"
	metaPlanID         = "plan_id"
	metaAddonMessages  = "addon_messages_units"
	metaAddonStorage   = "addon_storage_units"
	metaAddonUsers     = "addon_users_units"
)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	StripeClient      *client.API
	AccountingManager *accounting.Manager
	Catalog           accounting.Catalog
	Subscriptions     accounting.SubscriptionStore
	Ledger            accounting.LedgerStore
	Redis             redis.UniversalClient
	Logger            *zap.Logger

	Mode               plan.Mode
	WebhookSecret      string
	CheckoutSuccessURL string
	CheckoutCancelURL  string
}

// Service is the payment orchestration API router: checkout session creation,
// subscription cancellation, and the webhook receiver
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the billing API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.StripeClient == nil {
		return nil, fmt.Errorf("nil StripeClient is invalid")
	}
	if option.AccountingManager == nil {
		return nil, fmt.Errorf("nil AccountingManager is invalid")
	}
	if option.Catalog == nil {
		return nil, fmt.Errorf("nil Catalog is invalid")
	}
	if option.Subscriptions == nil {
		return nil, fmt.Errorf("nil Subscriptions is invalid")
	}
	if option.Ledger == nil {
		return nil, fmt.Errorf("nil Ledger is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.WebhookSecret) == 0 {
		return nil, fmt.Errorf("empty WebhookSecret is invalid")
	}
	if len(option.CheckoutSuccessURL) == 0 || len(option.CheckoutCancelURL) == 0 {
		return nil, fmt.Errorf("checkout redirect URLs are required")
	}
	if option.Mode == "" {
		option.Mode = plan.ModeDev
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// PlanCheckoutRequest asks for a checkout session to subscribe to a base tier
type PlanCheckoutRequest struct {
	PlanID string `json:"planId" validate:"required"`
}

// CheckoutResponse carries the redirect URL for the hosted checkout page
type CheckoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

func (s *Service) checkoutPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(
		zap.String("OrganizationID", claims.OrganizationID),
		zap.String("UserID", claims.UserID),
	)

	var req PlanCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrValidation())
		return
	}

	p, ok := s.Catalog.GetByID(ctx, req.PlanID)
	if !ok {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find plan with specified ID"))
		return
	}
	if p.IsAddon() || p.Slug == plan.SlugFree {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Plan is not purchasable via checkout"))
		return
	}
	priceID := p.PriceID(s.Mode)
	if len(priceID) == 0 {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Plan has no price configured"))
		return
	}

	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(s.CheckoutSuccessURL),
		CancelURL:         stripe.String(s.CheckoutCancelURL),
		ClientReferenceID: stripe.String(claims.OrganizationID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata(metaOrganizationID, claims.OrganizationID)
	params.AddMetadata(metaUserID, claims.UserID)
	params.AddMetadata(metaPlanID, p.ID)

	sess, err := s.StripeClient.CheckoutSessions.New(params)
	if err != nil {
		logger.Error("Unable to create checkout session in Stripe",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to start checkout"))
		return
	}

	resp.WriteResponse(w, r, CheckoutResponse{
		SessionID: sess.ID,
		URL:       sess.URL,
	})
}

// AddonCheckoutRequest asks for a checkout session buying addon units. Values
// are unit counts of each addon SKU; the granted capacity is units times the
// SKU's unit size, applied only once the payment webhook confirms.
type AddonCheckoutRequest struct {
	Messages int64 `json:"messages" validate:"min=0"`
	Storage  int64 `json:"storage" validate:"min=0"`
	Users    int64 `json:"users" validate:"min=0"`
}

func (s *Service) checkoutAddons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(
		zap.String("OrganizationID", claims.OrganizationID),
		zap.String("UserID", claims.UserID),
	)

	var req AddonCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrValidation())
		return
	}
	if req.Messages == 0 && req.Storage == 0 && req.Users == 0 {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("At least one addon unit is required"))
		return
	}

	view, err := s.AccountingManager.EffectivePlanView(ctx, claims.OrganizationID)
	if err != nil {
		logger.Error("Unable to compose effective plan view",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to start checkout"))
		return
	}
	if !view.Plan.AddonsAllowed {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Your plan does not support addons"))
		return
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, 3)
	metadata := map[string]string{
		metaOrganizationID: claims.OrganizationID,
		metaUserID:         claims.UserID,
	}
	for _, item := range []struct {
		slug    plan.Slug
		units   int64
		metaKey string
	}{
		{plan.SlugAddonMessages, req.Messages, metaAddonMessages},
		{plan.SlugAddonStorage, req.Storage, metaAddonStorage},
		{plan.SlugAddonUsers, req.Users, metaAddonUsers},
	} {
		if item.units == 0 {
			continue
		}
		sku, ok := s.Catalog.GetBySlug(ctx, item.slug)
		if !ok {
			resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Addon is not available"))
			return
		}
		priceID := sku.PriceID(s.Mode)
		if len(priceID) == 0 {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Addon has no price configured"))
			return
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(item.units),
		})
		metadata[item.metaKey] = strconv.FormatInt(item.units, 10)
	}

	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.CheckoutSuccessURL),
		CancelURL:         stripe.String(s.CheckoutCancelURL),
		ClientReferenceID: stripe.String(claims.OrganizationID),
		LineItems:         lineItems,
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sess, err := s.StripeClient.CheckoutSessions.New(params)
	if err != nil {
		logger.Error("Unable to create addon checkout session in Stripe",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to start checkout"))
		return
	}

	resp.WriteResponse(w, r, CheckoutResponse{
		SessionID: sess.ID,
		URL:       sess.URL,
	})
}

func (s *Service) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(
		zap.String("OrganizationID", claims.OrganizationID),
		zap.String("UserID", claims.UserID),
	)

	sub, err := s.Subscriptions.GetActive(ctx, claims.OrganizationID, s.Mode)
	if err != nil {
		logger.Error("Unable to look up active subscription",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to cancel subscription"))
		return
	}

	var subID string
	if sub != nil {
		subID = sub.ID
	}
	cancelled, err := s.AccountingManager.SwitchToFree(ctx, claims.OrganizationID, subID)
	if err != nil {
		logger.Error("Unable to switch organization to the free plan",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to cancel subscription"))
		return
	}

	// nothing to cancel is not an error, there is simply nothing to report
	resp.WriteResponse(w, r, cancelled)
}

// dedupEvent marks the webhook event id as seen. Returns false if another
// delivery already claimed it. Redis being down degrades to processing the
// event; every handler is idempotent anyway.
func (s *Service) dedupEvent(eventID string) bool {
	if s.Redis == nil {
		return true
	}
	ok, err := s.Redis.SetNX("stripe:event:"+eventID, 1, dedupTTL).Result()
	if err != nil {
		s.Logger.Warn("Webhook dedup store unavailable",
			zap.Error(err),
		)
		return true
	}
	return ok
}

// forgetEvent releases the dedup claim after a transient failure so the
// provider's redelivery is processed rather than dropped
func (s *Service) forgetEvent(eventID string) {
	if s.Redis == nil {
		return
	}
	if err := s.Redis.Del("stripe:event:" + eventID).Err(); err != nil {
		s.Logger.Warn("Unable to release webhook dedup claim",
			zap.String("EventID", eventID),
			zap.Error(err),
		)
	}
}

// Router returns the routes for checkout, cancellation, and the webhook receiver
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/checkout/plan", s.checkoutPlan)
	r.Post("/checkout/plan/addons", s.checkoutAddons)
	r.Post("/cancel-subscription", s.cancelSubscription)

	return r
}
