package domain

import "time"

// PaymentStatus mirrors the provider's payment intent outcome.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment is a one-off payment created at checkout and updated on outcome events.
type Payment struct {
	ID                      string            `json:"id"`
	UserID                  string            `json:"userId"`
	ExternalCustomerID      string            `json:"externalCustomerId"`
	ExternalPaymentIntentID string            `json:"externalPaymentIntentId"`
	Status                  PaymentStatus     `json:"status"`
	Amount                  int64             `json:"amount"`
	Currency                string            `json:"currency"`
	Metadata                map[string]string `json:"metadata,omitempty"`
	CreatedAt               time.Time         `json:"createdAt"`
	UpdatedAt               time.Time         `json:"updatedAt"`
}

// PaymentPatch is a partial update; nil fields are left unchanged.
type PaymentPatch struct {
	Status   *PaymentStatus    `json:"status,omitempty"`
	Amount   *int64            `json:"amount,omitempty"`
	Currency *string           `json:"currency,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
