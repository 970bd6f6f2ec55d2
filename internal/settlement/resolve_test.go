package settlement

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/davidecorsi/beatstore-backend/internal/catalog"
	"github.com/davidecorsi/beatstore-backend/pkg/db/models"
	"github.com/davidecorsi/beatstore-backend/pkg/enums"
	"github.com/davidecorsi/beatstore-backend/pkg/logger"
	"github.com/davidecorsi/beatstore-backend/pkg/paypal"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type stubOrderLookup struct {
	token string
	err   error
	calls int
}

func (s *stubOrderLookup) OrderCustomID(ctx context.Context, orderID string) (string, error) {
	s.calls++
	return s.token, s.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func newResolverDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:resolve_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Beat{}, &models.Bundle{}, &models.BundleMember{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newResolver(t *testing.T, db *gorm.DB, lookup *stubOrderLookup) *Resolver {
	t.Helper()
	resolver, err := NewResolver(lookup, catalog.NewRepository(db), testLogger())
	if err != nil {
		t.Fatalf("resolver constructor: %v", err)
	}
	return resolver
}

func TestParseToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		token   string
		buyerID int64
		kind    enums.OrderKind
		title   string
		ok      bool
	}{
		{"item with kind", "12345:item:Midnight_Drive", 12345, enums.OrderKindItem, "Midnight Drive", true},
		{"kind omitted", "12345:Midnight_Drive", 12345, enums.OrderKindItem, "Midnight Drive", true},
		{"bundle", "99:bundle:Summer_Pack", 99, enums.OrderKindBundle, "Summer Pack", true},
		{"empty", "", 0, enums.OrderKindItem, "", false},
		{"no buyer", "abc:item:X", 0, enums.OrderKindItem, "", false},
		{"negative buyer", "-5:item:X", 0, enums.OrderKindItem, "", false},
		{"unknown kind", "12:song:X", 0, enums.OrderKindItem, "", false},
		{"blank name", "12:item:___", 0, enums.OrderKindItem, "", false},
		{"buyer only", "12345", 0, enums.OrderKindItem, "", false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			buyerID, kind, title, ok := parseToken(tc.token)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if buyerID != tc.buyerID || kind != tc.kind || title != tc.title {
				t.Fatalf("got (%d, %s, %q)", buyerID, kind, title)
			}
		})
	}
}

func TestResolvePrefersTokenOnResource(t *testing.T) {
	t.Parallel()

	lookup := &stubOrderLookup{}
	resolver := newResolver(t, newResolverDB(t), lookup)

	capture := &paypal.Capture{ID: "TXN", CustomID: "12345:item:Midnight_Drive"}
	res, err := resolver.Resolve(context.Background(), capture)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.BuyerID != 12345 || res.Title != "Midnight Drive" || res.Kind != enums.OrderKindItem {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if lookup.calls != 0 {
		t.Fatalf("provider lookup should not run when the resource carries a token")
	}
}

func TestResolveFallsBackToProviderLookup(t *testing.T) {
	t.Parallel()

	lookup := &stubOrderLookup{token: "777:item:Slow_Burn"}
	resolver := newResolver(t, newResolverDB(t), lookup)

	capture := &paypal.Capture{ID: "TXN"}
	capture.SupplementaryData.RelatedIDs.OrderID = "ORDER-1"
	res, err := resolver.Resolve(context.Background(), capture)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.BuyerID != 777 || res.Title != "Slow Burn" {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if lookup.calls != 1 {
		t.Fatalf("expected one lookup call, got %d", lookup.calls)
	}
}

func TestResolveUsesLineItemToken(t *testing.T) {
	t.Parallel()

	lookup := &stubOrderLookup{err: errors.New("boom")}
	resolver := newResolver(t, newResolverDB(t), lookup)

	capture := &paypal.Capture{
		ID: "TXN",
		PurchaseUnits: []paypal.PurchaseUnit{
			{Items: []paypal.LineItem{{Name: "x", CustomID: "55:item:Afterglow"}}},
		},
	}
	capture.SupplementaryData.RelatedIDs.OrderID = "ORDER-1"

	res, err := resolver.Resolve(context.Background(), capture)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.BuyerID != 55 || res.Title != "Afterglow" {
		t.Fatalf("unexpected resolution: %+v", res)
	}
}

func TestResolveSimulatorFallbackOnOrderNotFound(t *testing.T) {
	t.Parallel()

	lookup := &stubOrderLookup{err: paypal.ErrOrderNotFound}
	resolver := newResolver(t, newResolverDB(t), lookup)

	capture := &paypal.Capture{ID: "TXN"}
	capture.SupplementaryData.RelatedIDs.OrderID = "SIMULATED"

	res, err := resolver.Resolve(context.Background(), capture)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Simulator || res.BuyerID != SimulatorBuyerID || res.Title != SimulatorTitle {
		t.Fatalf("expected simulator identity, got %+v", res)
	}
}

func TestResolveLookupErrorYieldsInvalid(t *testing.T) {
	t.Parallel()

	lookup := &stubOrderLookup{err: errors.New("gateway timeout")}
	resolver := newResolver(t, newResolverDB(t), lookup)

	capture := &paypal.Capture{ID: "TXN"}
	capture.SupplementaryData.RelatedIDs.OrderID = "ORDER-1"

	res, err := resolver.Resolve(context.Background(), capture)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Valid() || res.Simulator {
		t.Fatalf("lookup error must not trigger the simulator fallback: %+v", res)
	}
}

func TestResolveBundleBindsDurableID(t *testing.T) {
	t.Parallel()

	db := newResolverDB(t)
	bundle := &models.Bundle{ID: uuid.New(), Name: "Summer Pack", IsActive: true}
	if err := db.Create(bundle).Error; err != nil {
		t.Fatalf("seed bundle: %v", err)
	}

	resolver := newResolver(t, db, &stubOrderLookup{})
	capture := &paypal.Capture{ID: "TXN", CustomID: "42:bundle:Summer_Pack"}
	res, err := resolver.Resolve(context.Background(), capture)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Kind != enums.OrderKindBundle || res.BundleID == nil || *res.BundleID != bundle.ID {
		t.Fatalf("unexpected resolution: %+v", res)
	}
}
