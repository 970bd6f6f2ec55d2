package settlement

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/davidecorsi/beatstore-backend/internal/catalog"
	"github.com/davidecorsi/beatstore-backend/pkg/enums"
	pkgerrors "github.com/davidecorsi/beatstore-backend/pkg/errors"
	"github.com/davidecorsi/beatstore-backend/pkg/logger"
	"github.com/davidecorsi/beatstore-backend/pkg/paypal"
	"github.com/google/uuid"
)

// Sentinel identity assigned to deliveries from the provider's webhook
// simulator: the simulator invents order ids that the live API reports as
// not found, and those must settle rather than bounce.
const (
	SimulatorBuyerID = 424242
	SimulatorTitle   = "PayPal Simulator"
)

// OrderLookup fetches the correlation token from the provider by order id.
// paypal.ErrOrderNotFound distinguishes "order does not exist" from a
// lookup failure.
type OrderLookup interface {
	OrderCustomID(ctx context.Context, orderID string) (string, error)
}

// Resolution identifies who bought what. A zero BuyerID means the delivery
// carried no usable correlation data and must be rejected.
type Resolution struct {
	BuyerID   int64
	Title     string
	BundleID  *uuid.UUID
	Kind      enums.OrderKind
	Simulator bool
}

// Valid reports whether the delivery resolved to a real purchase.
func (r Resolution) Valid() bool {
	return r.BuyerID != 0
}

// Resolver extracts the buyer/item correlation from a capture, falling back
// to a provider order lookup when the token was not echoed on the resource.
type Resolver struct {
	provider OrderLookup
	catalog  catalog.Repository
	log      *logger.Logger
}

func NewResolver(provider OrderLookup, catalogRepo catalog.Repository, logg *logger.Logger) (*Resolver, error) {
	if provider == nil {
		return nil, errors.New("order lookup is required")
	}
	if catalogRepo == nil {
		return nil, errors.New("catalog repository is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Resolver{provider: provider, catalog: catalogRepo, log: logg}, nil
}

// Resolve walks the token locations in priority order: fields on the capture
// resource, then the provider order lookup through the related order id, then
// the nested line items. An explicit not-found from the lookup with no token
// anywhere marks the delivery as a simulator test.
func (r *Resolver) Resolve(ctx context.Context, capture *paypal.Capture) (Resolution, error) {
	if capture == nil {
		return Resolution{Kind: enums.OrderKindItem}, pkgerrors.New(pkgerrors.CodeValidation, "capture is required")
	}

	if res, ok := r.fromToken(ctx, tokenOnResource(capture)); ok {
		return res, nil
	}

	orderNotFound := false
	if orderID := strings.TrimSpace(capture.SupplementaryData.RelatedIDs.OrderID); orderID != "" {
		token, err := r.provider.OrderCustomID(ctx, orderID)
		switch {
		case err == nil:
			if res, ok := r.fromToken(ctx, token); ok {
				return res, nil
			}
		case errors.Is(err, paypal.ErrOrderNotFound):
			orderNotFound = true
		default:
			r.log.Error(ctx, "provider order lookup failed", err)
		}
	}

	if res, ok := r.fromToken(ctx, tokenOnLineItems(capture)); ok {
		return res, nil
	}

	if orderNotFound {
		return Resolution{
			BuyerID:   SimulatorBuyerID,
			Title:     SimulatorTitle,
			Kind:      enums.OrderKindItem,
			Simulator: true,
		}, nil
	}
	return Resolution{Kind: enums.OrderKindItem}, nil
}

func (r *Resolver) fromToken(ctx context.Context, token string) (Resolution, bool) {
	buyerID, kind, name, ok := parseToken(token)
	if !ok {
		return Resolution{}, false
	}
	res := Resolution{BuyerID: buyerID, Title: name, Kind: kind}
	if kind == enums.OrderKindBundle {
		bundle, err := r.catalog.FindActiveBundleByName(ctx, name)
		if err == nil {
			id := bundle.ID
			res.BundleID = &id
		} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
			r.log.Error(ctx, "bundle resolution failed", err)
		}
	}
	return res, true
}

// parseToken decodes `buyer_id:kind:item_name` where kind may be omitted
// (implying item) and underscores in the name stand for spaces.
func parseToken(token string) (int64, enums.OrderKind, string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, enums.OrderKindItem, "", false
	}
	parts := strings.SplitN(token, ":", 3)
	buyerID, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || buyerID <= 0 {
		return 0, enums.OrderKindItem, "", false
	}

	kind := enums.OrderKindItem
	var rawName string
	switch len(parts) {
	case 2:
		rawName = parts[1]
	case 3:
		parsed, err := enums.ParseOrderKind(strings.TrimSpace(parts[1]))
		if err != nil {
			return 0, enums.OrderKindItem, "", false
		}
		kind = parsed
		rawName = parts[2]
	default:
		return 0, enums.OrderKindItem, "", false
	}

	name := strings.TrimSpace(strings.ReplaceAll(rawName, "_", " "))
	if name == "" {
		return 0, enums.OrderKindItem, "", false
	}
	return buyerID, kind, name, true
}

func tokenOnResource(capture *paypal.Capture) string {
	for _, candidate := range []string{capture.CustomID, capture.ReferenceID, capture.CustomToken} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	for _, unit := range capture.PurchaseUnits {
		for _, candidate := range []string{unit.CustomID, unit.ReferenceID} {
			if strings.TrimSpace(candidate) != "" {
				return candidate
			}
		}
	}
	return ""
}

func tokenOnLineItems(capture *paypal.Capture) string {
	for _, unit := range capture.PurchaseUnits {
		for _, item := range unit.Items {
			if strings.TrimSpace(item.CustomID) != "" {
				return item.CustomID
			}
		}
	}
	return ""
}
