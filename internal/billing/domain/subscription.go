package domain

import "time"

// SubscriptionStatus represents the current billing state.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription represents a user's subscription as mirrored from the billing provider.
type Subscription struct {
	ID                     string             `json:"id"`
	UserID                 string             `json:"userId"`
	Plan                   Tier               `json:"plan"`
	Status                 SubscriptionStatus `json:"status"`
	ExternalSubscriptionID string             `json:"externalSubscriptionId"`
	ExternalCustomerID     string             `json:"externalCustomerId"`
	CurrentPeriodStart     time.Time          `json:"currentPeriodStart"`
	CurrentPeriodEnd       time.Time          `json:"currentPeriodEnd"`
	CancelAtPeriodEnd      bool               `json:"cancelAtPeriodEnd"`
	TrialEnd               *time.Time         `json:"trialEnd,omitempty"`
	Metadata               map[string]string  `json:"metadata,omitempty"`
	BillingHistory         []BillingRecord    `json:"billingHistory"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

// BillingRecord is one paid invoice in a subscription's history.
type BillingRecord struct {
	InvoiceID         string    `json:"invoiceId"`
	ExternalInvoiceID string    `json:"externalInvoiceId"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	PaidAt            time.Time `json:"paidAt"`
	PeriodStart       time.Time `json:"periodStart"`
	PeriodEnd         time.Time `json:"periodEnd"`
}

// HasBillingRecord reports whether the history already holds the invoice.
func (s *Subscription) HasBillingRecord(invoiceID string) bool {
	for _, rec := range s.BillingHistory {
		if rec.InvoiceID == invoiceID {
			return true
		}
	}
	return false
}

// WithBillingRecord returns the history with rec appended, unless the
// invoice is already recorded.
func (s *Subscription) WithBillingRecord(rec BillingRecord) []BillingRecord {
	history := make([]BillingRecord, 0, len(s.BillingHistory)+1)
	history = append(history, s.BillingHistory...)
	if s.HasBillingRecord(rec.InvoiceID) {
		return history
	}
	return append(history, rec)
}

// Entitled reports whether the subscription grants a paid tier.
func (s *Subscription) Entitled() bool {
	if s.Plan == TierFree {
		return false
	}
	return s.Status == SubscriptionActive || s.Status == SubscriptionTrialing
}

// SubscriptionPatch is a partial update; nil fields are left unchanged.
type SubscriptionPatch struct {
	UserID             *string             `json:"userId,omitempty"`
	Plan               *Tier               `json:"plan,omitempty"`
	Status             *SubscriptionStatus `json:"status,omitempty"`
	ExternalCustomerID *string             `json:"externalCustomerId,omitempty"`
	CurrentPeriodStart *time.Time          `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   *time.Time          `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd  *bool               `json:"cancelAtPeriodEnd,omitempty"`
	TrialEnd           *time.Time          `json:"trialEnd,omitempty"`
	Metadata           map[string]string   `json:"metadata,omitempty"`
	BillingHistory     []BillingRecord     `json:"billingHistory,omitempty"`
}
