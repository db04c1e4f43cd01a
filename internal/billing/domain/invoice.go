package domain

import "time"

// InvoiceStatus represents an invoice's payment state.
type InvoiceStatus string

const (
	InvoiceOpen InvoiceStatus = "open"
	InvoicePaid InvoiceStatus = "paid"
)

// Invoice is a provider invoice owned by a subscription.
type Invoice struct {
	ID                      string        `json:"id"`
	SubscriptionID          string        `json:"subscriptionId"`
	UserID                  string        `json:"userId"`
	ExternalInvoiceID       string        `json:"externalInvoiceId"`
	ExternalPaymentIntentID string        `json:"externalPaymentIntentId,omitempty"`
	Amount                  int64         `json:"amount"`
	Currency                string        `json:"currency"`
	Status                  InvoiceStatus `json:"status"`
	DueDate                 *time.Time    `json:"dueDate,omitempty"`
	LineItems               []LineItem    `json:"lineItems"`
	Subtotal                int64         `json:"subtotal"`
	Tax                     int64         `json:"tax"`
	Discount                int64         `json:"discount"`
	AttemptCount            int           `json:"attemptCount"`
	NextPaymentAttempt      *time.Time    `json:"nextPaymentAttempt,omitempty"`
	CreatedAt               time.Time     `json:"createdAt"`
	UpdatedAt               time.Time     `json:"updatedAt"`
}

// LineItem is one billed line of an invoice.
type LineItem struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Amount      int64     `json:"amount"`
	Quantity    int64     `json:"quantity"`
	PriceID     string    `json:"priceId,omitempty"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}

// InvoicePatch is a partial update; nil fields are left unchanged.
type InvoicePatch struct {
	ExternalPaymentIntentID *string        `json:"externalPaymentIntentId,omitempty"`
	Amount                  *int64         `json:"amount,omitempty"`
	Currency                *string        `json:"currency,omitempty"`
	Status                  *InvoiceStatus `json:"status,omitempty"`
	DueDate                 *time.Time     `json:"dueDate,omitempty"`
	LineItems               []LineItem     `json:"lineItems,omitempty"`
	Subtotal                *int64         `json:"subtotal,omitempty"`
	Tax                     *int64         `json:"tax,omitempty"`
	Discount                *int64         `json:"discount,omitempty"`
	AttemptCount            *int           `json:"attemptCount,omitempty"`
	NextPaymentAttempt      *time.Time     `json:"nextPaymentAttempt,omitempty"`
}
