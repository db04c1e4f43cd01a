package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
)

// expandableID decodes a provider reference that is either an id string or
// an expanded object carrying an id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func unixTimePtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := unixTime(sec)
	return &t
}

type pricePayload struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	LookupKey string `json:"lookup_key"`
}

type periodPayload struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type linePayload struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	Amount      int64         `json:"amount"`
	Quantity    int64         `json:"quantity"`
	Price       *pricePayload `json:"price"`
	Period      periodPayload `json:"period"`
}

type amountPayload struct {
	Amount int64 `json:"amount"`
}

type invoicePayload struct {
	ID            string       `json:"id"`
	Customer      expandableID `json:"customer"`
	Subscription  expandableID `json:"subscription"`
	PaymentIntent expandableID `json:"payment_intent"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	AmountDue            int64           `json:"amount_due"`
	AmountPaid           int64           `json:"amount_paid"`
	Currency             string          `json:"currency"`
	Status               string          `json:"status"`
	Paid                 bool            `json:"paid"`
	DueDate              int64           `json:"due_date"`
	Subtotal             int64           `json:"subtotal"`
	Tax                  int64           `json:"tax"`
	TotalTaxes           []amountPayload `json:"total_taxes"`
	TotalDiscountAmounts []amountPayload `json:"total_discount_amounts"`
	AttemptCount         int64           `json:"attempt_count"`
	NextPaymentAttempt   int64           `json:"next_payment_attempt"`
	PeriodStart          int64           `json:"period_start"`
	PeriodEnd            int64           `json:"period_end"`
	Lines                struct {
		Data []linePayload `json:"data"`
	} `json:"lines"`
}

func (p *invoicePayload) validate() error {
	if p.ID == "" {
		return fmt.Errorf("invoice payload has no id")
	}
	return nil
}

// subscriptionID returns the owning provider subscription, from either the
// current parent shape or the legacy top-level field.
func (p *invoicePayload) subscriptionID() string {
	if p.Parent != nil && p.Parent.SubscriptionDetails != nil && p.Parent.SubscriptionDetails.Subscription != "" {
		return string(p.Parent.SubscriptionDetails.Subscription)
	}
	return string(p.Subscription)
}

func (p *invoicePayload) lockKey() string {
	if id := p.subscriptionID(); id != "" {
		return "subscription:" + id
	}
	return "invoice:" + p.ID
}

func (p *invoicePayload) isPaid() bool {
	return p.Paid || p.Status == "paid"
}

func (p *invoicePayload) amount() int64 {
	if p.AmountPaid > 0 {
		return p.AmountPaid
	}
	return p.AmountDue
}

func (p *invoicePayload) tax() int64 {
	if p.Tax > 0 {
		return p.Tax
	}
	var total int64
	for _, t := range p.TotalTaxes {
		total += t.Amount
	}
	return total
}

func (p *invoicePayload) discount() int64 {
	var total int64
	for _, d := range p.TotalDiscountAmounts {
		total += d.Amount
	}
	return total
}

// servicePeriod is the period the invoice pays for. Subscription line items
// carry the upcoming period; the invoice's own period is the fallback.
func (p *invoicePayload) servicePeriod() (time.Time, time.Time) {
	for _, line := range p.Lines.Data {
		if line.Period.End > 0 {
			return unixTime(line.Period.Start), unixTime(line.Period.End)
		}
	}
	return unixTime(p.PeriodStart), unixTime(p.PeriodEnd)
}

func (p *invoicePayload) lineItems() []domain.LineItem {
	items := make([]domain.LineItem, 0, len(p.Lines.Data))
	for _, line := range p.Lines.Data {
		item := domain.LineItem{
			ID:          line.ID,
			Description: line.Description,
			Amount:      line.Amount,
			Quantity:    line.Quantity,
			PeriodStart: unixTime(line.Period.Start),
			PeriodEnd:   unixTime(line.Period.End),
		}
		if line.Price != nil {
			item.PriceID = line.Price.ID
		}
		items = append(items, item)
	}
	return items
}

type subscriptionItemPayload struct {
	Price              *pricePayload `json:"price"`
	CurrentPeriodStart int64         `json:"current_period_start"`
	CurrentPeriodEnd   int64         `json:"current_period_end"`
}

type subscriptionPayload struct {
	ID                 string                    `json:"id"`
	Customer           expandableID              `json:"customer"`
	Status             stripe.SubscriptionStatus `json:"status"`
	CurrentPeriodStart int64                     `json:"current_period_start"`
	CurrentPeriodEnd   int64                     `json:"current_period_end"`
	CancelAtPeriodEnd  bool                      `json:"cancel_at_period_end"`
	TrialEnd           int64                     `json:"trial_end"`
	Metadata           map[string]string         `json:"metadata"`
	Plan               *pricePayload             `json:"plan"`
	Items              struct {
		Data []subscriptionItemPayload `json:"data"`
	} `json:"items"`
}

func (p *subscriptionPayload) validate() error {
	if p.ID == "" {
		return fmt.Errorf("subscription payload has no id")
	}
	return nil
}

func (p *subscriptionPayload) lockKey() string {
	return "subscription:" + p.ID
}

// period returns the current period, falling back to the first item's
// period when the provider reports periods per item.
func (p *subscriptionPayload) period() (time.Time, time.Time) {
	start, end := p.CurrentPeriodStart, p.CurrentPeriodEnd
	if end == 0 && len(p.Items.Data) > 0 {
		start, end = p.Items.Data[0].CurrentPeriodStart, p.Items.Data[0].CurrentPeriodEnd
	}
	return unixTime(start), unixTime(end)
}

// planName returns the free-text plan name: metadata first, then the
// price nickname, then its lookup key. Empty when the payload names no plan.
func (p *subscriptionPayload) planName() string {
	if name := p.Metadata["plan"]; name != "" {
		return name
	}
	prices := make([]*pricePayload, 0, len(p.Items.Data)+1)
	for _, item := range p.Items.Data {
		prices = append(prices, item.Price)
	}
	prices = append(prices, p.Plan)
	for _, price := range prices {
		if price == nil {
			continue
		}
		if price.Nickname != "" {
			return price.Nickname
		}
		if price.LookupKey != "" {
			return price.LookupKey
		}
	}
	return ""
}

// mappedStatus maps the provider status onto ours. ok is false for statuses
// with no equivalent, which leave the stored status unchanged.
func (p *subscriptionPayload) mappedStatus() (domain.SubscriptionStatus, bool) {
	switch p.Status {
	case stripe.SubscriptionStatusTrialing:
		return domain.SubscriptionTrialing, true
	case stripe.SubscriptionStatusActive:
		return domain.SubscriptionActive, true
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncomplete:
		return domain.SubscriptionPastDue, true
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return domain.SubscriptionCanceled, true
	default:
		return "", false
	}
}

type paymentIntentPayload struct {
	ID               string            `json:"id"`
	Customer         expandableID      `json:"customer"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func (p *paymentIntentPayload) validate() error {
	if p.ID == "" {
		return fmt.Errorf("payment intent payload has no id")
	}
	return nil
}

func (p *paymentIntentPayload) lockKey() string {
	return "payment:" + p.ID
}

type chargePayload struct {
	ID             string       `json:"id"`
	PaymentIntent  expandableID `json:"payment_intent"`
	Amount         int64        `json:"amount"`
	AmountRefunded int64        `json:"amount_refunded"`
	Refunded       bool         `json:"refunded"`
}

func (p *chargePayload) validate() error {
	if p.ID == "" {
		return fmt.Errorf("charge payload has no id")
	}
	return nil
}

func (p *chargePayload) lockKey() string {
	if p.PaymentIntent != "" {
		return "payment:" + string(p.PaymentIntent)
	}
	return "charge:" + p.ID
}
