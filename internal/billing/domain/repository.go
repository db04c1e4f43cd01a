package domain

import "context"

// SubscriptionRepository defines access for subscription persistence.
type SubscriptionRepository interface {
	FindByExternalID(ctx context.Context, externalSubscriptionID string) (*Subscription, error)
	FindByID(ctx context.Context, id string) (*Subscription, error)
	FindByUserID(ctx context.Context, userID string) ([]*Subscription, error)
	Create(ctx context.Context, subscription *Subscription) error
	UpdateFields(ctx context.Context, id string, patch SubscriptionPatch) (*Subscription, error)
}

// InvoiceRepository defines access for invoice persistence.
type InvoiceRepository interface {
	FindByExternalID(ctx context.Context, externalInvoiceID string) (*Invoice, error)
	FindByID(ctx context.Context, id string) (*Invoice, error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]*Invoice, error)
	Create(ctx context.Context, invoice *Invoice) error
	UpdateFields(ctx context.Context, id string, patch InvoicePatch) (*Invoice, error)
}

// PaymentRepository defines access for payment persistence.
type PaymentRepository interface {
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*Payment, error)
	FindByID(ctx context.Context, id string) (*Payment, error)
	FindByCustomerID(ctx context.Context, customerID string) ([]*Payment, error)
	Create(ctx context.Context, payment *Payment) error
	UpdateFields(ctx context.Context, id string, patch PaymentPatch) (*Payment, error)
}

// UserRepository reads users and maintains their entitlement marker.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*User, error)
	UpdateFields(ctx context.Context, id string, patch UserPatch) (*User, error)
}
