package routes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/davidecorsi/beatstore-backend/internal/settlement"
	"github.com/davidecorsi/beatstore-backend/pkg/config"
	"github.com/davidecorsi/beatstore-backend/pkg/logger"
	"github.com/davidecorsi/beatstore-backend/pkg/paypal"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error {
	return p.err
}

type stubSettlement struct {
	captures int
}

func (s *stubSettlement) HandleCaptureCompleted(ctx context.Context, event *paypal.WebhookEvent) (*settlement.Result, error) {
	s.captures++
	return &settlement.Result{TransactionID: event.ID}, nil
}

func (s *stubSettlement) HandleOrderApproved(ctx context.Context, event *paypal.WebhookEvent) error {
	return nil
}

func newTestRouter(t *testing.T, svc *stubSettlement, dbErr error) http.Handler {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.PayPal.SkipVerify = true
	return NewRouter(RouterParams{
		Config:      cfg,
		Logger:      logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DBPinger:    stubPinger{err: dbErr},
		RedisPinger: stubPinger{},
		Settlement:  svc,
		Metrics:     prometheus.NewRegistry(),
	})
}

func TestRouterHealthEndpoints(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &stubSettlement{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("live = %d", rec.Code)
	}
	if got := rec.Header().Get("X-Beatstore-Env"); got != "test" {
		t.Fatalf("env header = %q", got)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready = %d", rec.Code)
	}
}

func TestRouterReadyFailsWhenDBDown(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &stubSettlement{}, errors.New("connection refused"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready with broken db = %d", rec.Code)
	}
}

func TestRouterDispatchesWebhook(t *testing.T) {
	t.Parallel()

	svc := &stubSettlement{}
	router := newTestRouter(t, svc, nil)

	body := `{"id":"WH-7","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"TXN-7","custom_id":"1:item:Demo","amount":{"value":"5.00","currency_code":"EUR"}}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/paypal", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook = %d, body %s", rec.Code, rec.Body.String())
	}
	if svc.captures != 1 {
		t.Fatalf("captures = %d", svc.captures)
	}
}

func TestRouterServesMetrics(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &stubSettlement{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
}
