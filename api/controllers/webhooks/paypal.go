package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/davidecorsi/beatstore-backend/api/responses"
	"github.com/davidecorsi/beatstore-backend/internal/settlement"
	"github.com/davidecorsi/beatstore-backend/pkg/config"
	pkgerrors "github.com/davidecorsi/beatstore-backend/pkg/errors"
	"github.com/davidecorsi/beatstore-backend/pkg/logger"
	"github.com/davidecorsi/beatstore-backend/pkg/paypal"
)

// SettlementService is the engine surface the webhook entrypoint drives.
type SettlementService interface {
	HandleCaptureCompleted(ctx context.Context, event *paypal.WebhookEvent) (*settlement.Result, error)
	HandleOrderApproved(ctx context.Context, event *paypal.WebhookEvent) error
}

type signatureVerifier interface {
	VerifyWebhookSignature(ctx context.Context, body json.RawMessage, headers http.Header) (bool, error)
}

// PayPalWebhook receives provider deliveries: verify the signature, parse
// the envelope, dispatch on event type. The provider retries on any non-2xx,
// so only genuinely retryable failures may answer with one.
func PayPalWebhook(svc SettlementService, verifier signatureVerifier, cfg config.PayPalConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if cfg.SkipVerify {
			if logg != nil {
				logg.Warn(ctx, "webhook signature verification skipped by configuration")
			}
		} else {
			if verifier == nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "signature verifier unavailable"))
				return
			}
			valid, err := verifier.VerifyWebhookSignature(ctx, body, r.Header)
			if err != nil {
				// An unverifiable signature is rejected the same way as an
				// invalid one; the provider redelivers on non-2xx anyway.
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeVerification, err, "verify webhook signature"))
				return
			}
			if !valid {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeVerification, "webhook signature rejected"))
				return
			}
		}

		event, err := paypal.ParseEvent(body)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithEventID(ctx, event.ID)
		}

		switch event.Kind() {
		case paypal.EventKindCaptureCompleted:
			result, err := svc.HandleCaptureCompleted(ctx, event)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			responses.WriteSuccess(w, result)
		case paypal.EventKindOrderApproved:
			if err := svc.HandleOrderApproved(ctx, event); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			responses.WriteSuccess(w, map[string]string{"status": "waiting notice sent"})
		default:
			if logg != nil {
				logg.Info(logg.WithField(ctx, "event_type", event.EventType), "ignoring unhandled event type")
			}
			responses.WriteSuccess(w, map[string]string{"status": "ignored"})
		}
	}
}
