package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/davidecorsi/beatstore-backend/internal/settlement"
	"github.com/davidecorsi/beatstore-backend/pkg/config"
	pkgerrors "github.com/davidecorsi/beatstore-backend/pkg/errors"
	"github.com/davidecorsi/beatstore-backend/pkg/logger"
	"github.com/davidecorsi/beatstore-backend/pkg/paypal"
)

type stubService struct {
	result   *settlement.Result
	err      error
	captures int
	approved int
}

func (s *stubService) HandleCaptureCompleted(ctx context.Context, event *paypal.WebhookEvent) (*settlement.Result, error) {
	s.captures++
	return s.result, s.err
}

func (s *stubService) HandleOrderApproved(ctx context.Context, event *paypal.WebhookEvent) error {
	s.approved++
	return s.err
}

type stubVerifier struct {
	valid bool
	err   error
	calls int
}

func (v *stubVerifier) VerifyWebhookSignature(ctx context.Context, body json.RawMessage, headers http.Header) (bool, error) {
	v.calls++
	return v.valid, v.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func eventBody(eventType string) string {
	return `{"id":"WH-1","event_type":"` + eventType + `","resource":{"id":"TXN-1","custom_id":"12345:item:Midnight_Drive","amount":{"value":"25.00","currency_code":"EUR"}}}`
}

func doRequest(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/paypal", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestPayPalWebhookDispatchesCapture(t *testing.T) {
	t.Parallel()

	svc := &stubService{result: &settlement.Result{TransactionID: "TXN-1"}}
	verifier := &stubVerifier{valid: true}
	handler := PayPalWebhook(svc, verifier, config.PayPalConfig{}, testLogger())

	rec := doRequest(t, handler, eventBody("PAYMENT.CAPTURE.COMPLETED"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if svc.captures != 1 || svc.approved != 0 {
		t.Fatalf("unexpected dispatch: captures=%d approved=%d", svc.captures, svc.approved)
	}
	if verifier.calls != 1 {
		t.Fatalf("signature must be verified, calls=%d", verifier.calls)
	}
}

func TestPayPalWebhookDispatchesOrderApproved(t *testing.T) {
	t.Parallel()

	svc := &stubService{}
	handler := PayPalWebhook(svc, &stubVerifier{valid: true}, config.PayPalConfig{}, testLogger())

	rec := doRequest(t, handler, eventBody("CHECKOUT.ORDER.APPROVED"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.approved != 1 || svc.captures != 0 {
		t.Fatalf("unexpected dispatch: captures=%d approved=%d", svc.captures, svc.approved)
	}
}

func TestPayPalWebhookAcknowledgesUnknownEvents(t *testing.T) {
	t.Parallel()

	svc := &stubService{}
	handler := PayPalWebhook(svc, &stubVerifier{valid: true}, config.PayPalConfig{}, testLogger())

	rec := doRequest(t, handler, eventBody("PAYMENT.CAPTURE.REFUNDED"))
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown events must be acknowledged, status = %d", rec.Code)
	}
	if svc.captures != 0 || svc.approved != 0 {
		t.Fatalf("unknown events must not hit the service")
	}
}

func TestPayPalWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	svc := &stubService{}
	handler := PayPalWebhook(svc, &stubVerifier{valid: false}, config.PayPalConfig{}, testLogger())

	rec := doRequest(t, handler, eventBody("PAYMENT.CAPTURE.COMPLETED"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid signature must answer 400, got %d", rec.Code)
	}
	if svc.captures != 0 {
		t.Fatalf("rejected delivery must not reach the service")
	}
}

func TestPayPalWebhookRejectsOnVerifierError(t *testing.T) {
	t.Parallel()

	svc := &stubService{}
	verifier := &stubVerifier{err: errors.New("verify endpoint timeout")}
	handler := PayPalWebhook(svc, verifier, config.PayPalConfig{}, testLogger())

	rec := doRequest(t, handler, eventBody("PAYMENT.CAPTURE.COMPLETED"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unverifiable signature must answer 400, got %d", rec.Code)
	}
	if svc.captures != 0 {
		t.Fatalf("rejected delivery must not reach the service")
	}
}

func TestPayPalWebhookSkipVerifyBypassesOracle(t *testing.T) {
	t.Parallel()

	svc := &stubService{result: &settlement.Result{}}
	verifier := &stubVerifier{}
	handler := PayPalWebhook(svc, verifier, config.PayPalConfig{SkipVerify: true}, testLogger())

	rec := doRequest(t, handler, eventBody("PAYMENT.CAPTURE.COMPLETED"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if verifier.calls != 0 {
		t.Fatalf("skip-verify must not call the oracle")
	}
}

func TestPayPalWebhookMapsErrorCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"conflict", pkgerrors.New(pkgerrors.CodeConflict, "no reservation"), http.StatusConflict},
		{"not found", pkgerrors.New(pkgerrors.CodeNotFound, "beat not found"), http.StatusNotFound},
		{"validation", pkgerrors.New(pkgerrors.CodeValidation, "bad token"), http.StatusBadRequest},
		{"duplicate acked", pkgerrors.New(pkgerrors.CodeDuplicate, "already settled"), http.StatusOK},
		{"internal", pkgerrors.New(pkgerrors.CodeInternal, "boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := &stubService{err: tc.err}
			handler := PayPalWebhook(svc, &stubVerifier{valid: true}, config.PayPalConfig{}, testLogger())
			rec := doRequest(t, handler, eventBody("PAYMENT.CAPTURE.COMPLETED"))
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
		})
	}
}

func TestPayPalWebhookRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	handler := PayPalWebhook(&stubService{}, &stubVerifier{valid: true}, config.PayPalConfig{}, testLogger())
	rec := doRequest(t, handler, `{"event_type":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body must answer 400, got %d", rec.Code)
	}
}
