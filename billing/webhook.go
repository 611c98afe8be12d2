package billing

import (
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"
	"time"

	"github.com/jackoliverdev/centrus/accounting"
	"github.com/jackoliverdev/centrus/addon"
	"github.com/jackoliverdev/centrus/plan"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
	"go.uber.org/zap"
)

const (
	// matches the read limit Stripe's own webhook examples use; a truncated
	// body would fail signature verification and be retried forever
	webhookMaxBody int64 = 1 << 20

	// a redelivered event older than this window has long been resolved by
	// the provider's own retry schedule
	dedupTTL = time.Hour * 72
)

// WebhookHandler returns the receiver for payment-processor events. The
// provider delivers at least once; signature verification, the redis dedup
// claim, and idempotent state transitions together make redelivery harmless.
func (s *Service) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := ioutil.ReadAll(io.LimitReader(r.Body, webhookMaxBody+1))
		if err != nil {
			http.Error(w, "cannot read payload", http.StatusBadRequest)
			return
		}
		if int64(len(payload)) > webhookMaxBody {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}

		event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), s.WebhookSecret)
		if err != nil {
			s.Logger.Warn("Webhook signature verification failed",
				zap.Error(err),
			)
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}

		logger := s.Logger.With(
			zap.String("EventID", event.ID),
			zap.String("EventType", event.Type),
		)

		if !s.dedupEvent(event.ID) {
			logger.Info("Webhook event already processed, acknowledging")
			w.WriteHeader(http.StatusOK)
			return
		}

		if err := s.processEvent(r.Context(), event); err != nil {
			// transient failure: release the dedup claim so the provider's
			// redelivery gets processed instead of dropped
			s.forgetEvent(event.ID)
			logger.Error("Unable to process webhook event",
				zap.Error(err),
			)
			http.Error(w, "unable to process event", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

func (s *Service) processEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			s.Logger.Warn("Malformed checkout session payload, acknowledging",
				zap.String("EventID", event.ID),
				zap.Error(err),
			)
			return nil
		}
		return s.applyCheckoutCompleted(ctx, &sess)

	case "customer.subscription.created", "customer.subscription.resumed":
		sub, err := decodeSubscription(event)
		if err != nil {
			return nil
		}
		_, err = s.AccountingManager.MarkActive(ctx, sub.ID)
		return err

	case "customer.subscription.paused":
		sub, err := decodeSubscription(event)
		if err != nil {
			return nil
		}
		_, err = s.AccountingManager.MarkPaused(ctx, sub.ID)
		return err

	case "customer.subscription.deleted":
		sub, err := decodeSubscription(event)
		if err != nil {
			return nil
		}
		_, err = s.AccountingManager.MarkCancelled(ctx, sub.ID)
		return err

	case "customer.subscription.updated":
		sub, err := decodeSubscription(event)
		if err != nil {
			return nil
		}
		var priceID string
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			priceID = sub.Items.Data[0].Price.ID
		}
		_, err = s.AccountingManager.ChangePlanFromPrice(ctx, sub.ID, priceID)
		return err

	case "invoice.payment_succeeded":
		s.Logger.Info("Invoice payment succeeded",
			zap.String("EventID", event.ID),
		)
		return nil

	case "payment_intent.succeeded",
		"payment_intent.canceled",
		"payment_intent.payment_failed",
		"payment_method.attached":
		s.Logger.Debug("Acknowledging payment event",
			zap.String("EventType", event.Type),
			zap.String("EventID", event.ID),
		)
		return nil

	default:
		s.Logger.Debug("Unhandled webhook event type",
			zap.String("EventType", event.Type),
			zap.String("EventID", event.ID),
		)
		return nil
	}
}

func decodeSubscription(event stripe.Event) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// applyCheckoutCompleted finalizes a paid checkout: a subscription-mode
// session upserts the Subscription record; a payment-mode session carrying
// addon units grants ledger capacity. This is the only place addon capacity is
// ever granted, so an unpaid checkout can never mutate the ledger.
func (s *Service) applyCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) error {
	orgID := sess.Metadata[metaOrganizationID]
	if len(orgID) == 0 {
		s.Logger.Warn("Checkout session has no organization metadata, acknowledging",
			zap.String("SessionID", sess.ID),
		)
		return nil
	}

	q, err := s.addonGrant(ctx, sess.Metadata)
	if err != nil {
		return err
	}
	if q != nil {
		return s.AccountingManager.GrantAddon(ctx, orgID, *q)
	}

	if sess.Subscription == nil {
		s.Logger.Warn("Checkout session completed without a subscription, acknowledging",
			zap.String("SessionID", sess.ID),
		)
		return nil
	}
	var customerID string
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	_, err = s.AccountingManager.ActivateSubscription(ctx, accounting.CheckoutResult{
		SubscriptionID: sess.Subscription.ID,
		CustomerID:     customerID,
		OrganizationID: orgID,
		UserID:         sess.Metadata[metaUserID],
		PlanID:         sess.Metadata[metaPlanID],
	})
	return err
}

// addonGrant converts the unit counts in the session metadata into capacity
// quantities via each SKU's unit size. Returns nil when the session carries no
// addon units.
func (s *Service) addonGrant(ctx context.Context, metadata map[string]string) (*addon.Quantities, error) {
	var q addon.Quantities
	for _, item := range []struct {
		metaKey string
		slug    plan.Slug
		dest    **int64
	}{
		{metaAddonMessages, plan.SlugAddonMessages, &q.Messages},
		{metaAddonStorage, plan.SlugAddonStorage, &q.Storage},
		{metaAddonUsers, plan.SlugAddonUsers, &q.Users},
	} {
		raw, present := metadata[item.metaKey]
		if !present {
			continue
		}
		units, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || units < 0 {
			s.Logger.Warn("Invalid addon unit count in session metadata, skipping",
				zap.String("Key", item.metaKey),
				zap.String("Value", raw),
			)
			continue
		}
		sku, ok := s.Catalog.GetBySlug(ctx, item.slug)
		if !ok {
			s.Logger.Warn("Addon SKU missing from catalog, skipping",
				zap.String("Slug", string(item.slug)),
			)
			continue
		}
		granted := units * sku.UnitSize
		*item.dest = &granted
	}
	if q.Empty() {
		return nil, nil
	}
	return &q, nil
}
