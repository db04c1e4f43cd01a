package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
)

type message struct {
	subject string
	text    string
	html    string
}

func render(kind domain.NotificationKind, user *domain.User, data map[string]any, baseURL string) message {
	name := user.Name
	if name == "" {
		name = "there"
	}
	billingURL := baseURL + "/settings/billing"

	var subject, line string
	switch kind {
	case domain.NotifyPaymentFailed:
		subject = "Your payment failed"
		line = fmt.Sprintf("We couldn't process your payment of %s. We'll retry automatically; you can update your payment method any time.",
			formatAmount(data))
	case domain.NotifyTrialWillEnd:
		subject = "Your trial is ending soon"
		line = fmt.Sprintf("Your %s trial ends on %v. Add a payment method to keep your plan.", data["plan"], data["trialEnd"])
	case domain.NotifyPaymentReceipt:
		subject = "Payment received"
		line = fmt.Sprintf("Thanks! We received your payment of %s.", formatAmount(data))
	case domain.NotifySubscriptionCanceled:
		subject = "Your subscription was canceled"
		line = "Your subscription has been canceled and your account moved to the free plan."
	default:
		subject = "Billing update"
		line = "There is an update to your billing account."
	}

	text := fmt.Sprintf("Hi %s,\n\n%s\n\nManage billing: %s\n", name, line, billingURL)
	body := fmt.Sprintf(`<p>Hi %s,</p><p>%s</p><p><a href="%s">Manage billing</a></p>`,
		html.EscapeString(name), html.EscapeString(line), billingURL)

	return message{subject: subject, text: text, html: body}
}

// formatAmount renders an amount in minor units, e.g. "12.00 USD".
func formatAmount(data map[string]any) string {
	var minor int64
	switch v := data["amount"].(type) {
	case int64:
		minor = v
	case int:
		minor = int64(v)
	case float64:
		minor = int64(v)
	default:
		return "your last invoice"
	}
	currency, _ := data["currency"].(string)
	return fmt.Sprintf("%d.%02d %s", minor/100, minor%100, strings.ToUpper(currency))
}
