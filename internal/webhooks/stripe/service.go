package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	"github.com/printloop/printloop-backend/internal/checkout"
	pkgerrors "github.com/printloop/printloop-backend/pkg/errors"
	"github.com/printloop/printloop-backend/pkg/logger"
)

const fallbackFailureReason = "payment failed"

type ServiceParams struct {
	Checkout checkout.Service
	Logger   *logger.Logger
}

// Service translates Stripe payment intent events into checkout
// transitions. Replays and out-of-order deliveries are absorbed by the
// checkout service itself, so handling here stays stateless.
type Service struct {
	checkout checkout.Service
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Checkout == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		checkout: params.Checkout,
		logg:     params.Logger,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		intent, err := decodeIntent(event)
		if err != nil {
			return err
		}
		logCtx := s.logg.WithField(ctx, "payment_intent_id", intent.ID)
		if err := s.checkout.ConfirmPayment(ctx, intent.ID); err != nil {
			return err
		}
		s.logg.Info(logCtx, "payment confirmed")
		return nil
	case stripe.EventTypePaymentIntentPaymentFailed:
		intent, err := decodeIntent(event)
		if err != nil {
			return err
		}
		logCtx := s.logg.WithField(ctx, "payment_intent_id", intent.ID)
		if err := s.checkout.FailPayment(ctx, intent.ID, failureReason(intent)); err != nil {
			return err
		}
		s.logg.Info(logCtx, "payment failure recorded")
		return nil
	default:
		return nil
	}
}

func decodeIntent(event *stripe.Event) (*stripe.PaymentIntent, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payment intent event")
	}
	if intent.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}
	return &intent, nil
}

func failureReason(intent *stripe.PaymentIntent) string {
	if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
		return intent.LastPaymentError.Msg
	}
	return fallbackFailureReason
}
