package paypal

import (
	"encoding/json"
	"strings"

	pkgerrors "github.com/davidecorsi/beatstore-backend/pkg/errors"
)

const (
	EventTypeOrderApproved    = "CHECKOUT.ORDER.APPROVED"
	EventTypeCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
)

// EventKind is the recognized subset of webhook event types.
type EventKind string

const (
	EventKindOrderApproved    EventKind = "order_approved"
	EventKindCaptureCompleted EventKind = "capture_completed"
	EventKindIgnored          EventKind = "ignored"
)

// WebhookEvent is the outer PayPal webhook envelope.
type WebhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

// ParseEvent decodes the webhook envelope from a raw delivery body.
func ParseEvent(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook event")
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook event id missing")
	}
	return &event, nil
}

// Kind maps the provider event type onto the recognized union; everything
// outside the two handled types collapses into the ignored variant.
func (e *WebhookEvent) Kind() EventKind {
	if e == nil {
		return EventKindIgnored
	}
	switch e.EventType {
	case EventTypeOrderApproved:
		return EventKindOrderApproved
	case EventTypeCaptureCompleted:
		return EventKindCaptureCompleted
	default:
		return EventKindIgnored
	}
}

// Amount is a provider money value: decimal string plus ISO currency.
type Amount struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

// Payer identifies who paid.
type Payer struct {
	EmailAddress string `json:"email_address"`
}

// LineItem is a nested purchase-unit item; some integrations stash the
// correlation token here instead of on the capture resource.
type LineItem struct {
	Name     string `json:"name"`
	SKU      string `json:"sku"`
	CustomID string `json:"custom_id"`
}

// PurchaseUnit carries the checkout context echoed onto captures.
type PurchaseUnit struct {
	CustomID    string     `json:"custom_id"`
	ReferenceID string     `json:"reference_id"`
	Items       []LineItem `json:"items"`
}

// RelatedIDs links a capture back to its originating checkout order.
type RelatedIDs struct {
	OrderID string `json:"order_id"`
}

// SupplementaryData is extra capture metadata.
type SupplementaryData struct {
	RelatedIDs RelatedIDs `json:"related_ids"`
}

// Capture is the PAYMENT.CAPTURE.COMPLETED resource.
type Capture struct {
	ID                string            `json:"id"`
	CustomID          string            `json:"custom_id"`
	ReferenceID       string            `json:"reference_id"`
	CustomToken       string            `json:"custom_token"`
	Payer             Payer             `json:"payer"`
	Amount            Amount            `json:"amount"`
	PurchaseUnits     []PurchaseUnit    `json:"purchase_units"`
	SupplementaryData SupplementaryData `json:"supplementary_data"`
}

// DecodeCapture parses the event resource as a capture.
func (e *WebhookEvent) DecodeCapture() (*Capture, error) {
	if e == nil || len(e.Resource) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "capture resource missing")
	}
	var capture Capture
	if err := json.Unmarshal(e.Resource, &capture); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode capture resource")
	}
	if strings.TrimSpace(capture.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "capture transaction id missing")
	}
	return &capture, nil
}

// ApprovedOrder is the CHECKOUT.ORDER.APPROVED resource.
type ApprovedOrder struct {
	ID            string         `json:"id"`
	Payer         Payer          `json:"payer"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
}

// DecodeApprovedOrder parses the event resource as an approved checkout order.
func (e *WebhookEvent) DecodeApprovedOrder() (*ApprovedOrder, error) {
	if e == nil || len(e.Resource) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order resource missing")
	}
	var order ApprovedOrder
	if err := json.Unmarshal(e.Resource, &order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode order resource")
	}
	return &order, nil
}
