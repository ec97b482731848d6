package dto

import "github.com/google/uuid"

// PaymentWebhook is the payload posted by the billing provider. The event
// type strings map onto subscription status transitions.
type PaymentWebhook struct {
	EventID   string       `json:"event_id"`
	EventType string       `json:"event_type"`
	TenantID  uuid.UUID    `json:"tenant_id"`
	Data      PaymentEvent `json:"data"`
}

type PaymentEvent struct {
	InvoiceID   string  `json:"invoice_id,omitempty"`
	AmountCents int     `json:"amount_cents,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	OccurredAt  int64   `json:"occurred_at_ms,omitempty"`
	FailureCode string  `json:"failure_code,omitempty"`
	Price       float64 `json:"price,omitempty"`
}
