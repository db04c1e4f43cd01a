// Package notify delivers billing notifications to users.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
)

const defaultPostmarkAPI = "https://api.postmarkapp.com"

// PostmarkNotifier sends notifications through the Postmark email API.
type PostmarkNotifier struct {
	serverToken string
	fromEmail   string
	appBaseURL  string
	apiURL      string
	httpClient  *http.Client
	users       domain.UserRepository
}

// Option configures a PostmarkNotifier.
type Option func(*PostmarkNotifier)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *PostmarkNotifier) {
		n.httpClient = c
	}
}

// WithAPIURL overrides the Postmark API endpoint.
func WithAPIURL(url string) Option {
	return func(n *PostmarkNotifier) {
		n.apiURL = strings.TrimRight(url, "/")
	}
}

// NewPostmarkNotifier creates a notifier that looks recipients up in users.
func NewPostmarkNotifier(serverToken, fromEmail, appBaseURL string, users domain.UserRepository, opts ...Option) *PostmarkNotifier {
	n := &PostmarkNotifier{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		appBaseURL:  strings.TrimRight(appBaseURL, "/"),
		apiURL:      defaultPostmarkAPI,
		httpClient:  http.DefaultClient,
		users:       users,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Configured returns true if the server token is set.
func (n *PostmarkNotifier) Configured() bool {
	return n.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
	Tag      string `json:"Tag,omitempty"`
}

// SendTransactionalMessage renders the message for kind and sends it to the user's email.
func (n *PostmarkNotifier) SendTransactionalMessage(ctx context.Context, userID string, kind domain.NotificationKind, data map[string]any) error {
	if !n.Configured() {
		return fmt.Errorf("postmark notifier not configured: missing server token")
	}

	user, err := n.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}
	if user.Email == "" {
		return fmt.Errorf("user %s has no email address", userID)
	}

	msg := render(kind, user, data, n.appBaseURL)
	payload := postmarkEmail{
		From:     n.fromEmail,
		To:       user.Email,
		Subject:  msg.subject,
		HtmlBody: msg.html,
		TextBody: msg.text,
		Tag:      string(kind),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.apiURL+"/email", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", n.serverToken)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
