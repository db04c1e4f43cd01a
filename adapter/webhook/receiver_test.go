package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/felixgeelhaar/billsync/internal/billing/application/ingest"
)

const testSecret = "whsec_test_secret"

type recordingProcessor struct {
	events []ingest.Event
	err    error
}

func (p *recordingProcessor) Process(_ context.Context, ev ingest.Event) error {
	p.events = append(p.events, ev)
	return p.err
}

func signedRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  secret,
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set(SignatureHeader, signed.Header)
	return req
}

func eventBody(kind string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"api_version":"2020-08-27","data":{"object":{"id":"in_1","object":"invoice"}}}`, kind))
}

func newTestReceiver(p Processor) *Receiver {
	return NewReceiver(testSecret, p, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestReceiver_ProcessesVerifiedEvent(t *testing.T) {
	proc := &recordingProcessor{}
	rec := httptest.NewRecorder()

	newTestReceiver(proc).ServeHTTP(rec, signedRequest(t, eventBody("invoice.payment_failed"), testSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, proc.events, 1)
	assert.Equal(t, "evt_1", proc.events[0].ID)
	assert.Equal(t, "invoice.payment_failed", proc.events[0].Type)
	assert.JSONEq(t, `{"id":"in_1","object":"invoice"}`, string(proc.events[0].Payload))
}

func TestReceiver_RejectsBadSignature(t *testing.T) {
	proc := &recordingProcessor{}

	rec := httptest.NewRecorder()
	newTestReceiver(proc).ServeHTTP(rec, signedRequest(t, eventBody("invoice.created"), "whsec_other"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(eventBody("invoice.created")))
	newTestReceiver(proc).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, proc.events)
}

func TestReceiver_MapsProcessingErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"malformed payload", fmt.Errorf("process: %w", ingest.ErrMalformedPayload), http.StatusBadRequest},
		{"storage failure", errors.New("store unavailable"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newTestReceiver(&recordingProcessor{err: tt.err}).ServeHTTP(rec, signedRequest(t, eventBody("invoice.created"), testSecret))
			assert.Equal(t, tt.want, rec.Code)
			assert.NotContains(t, rec.Body.String(), "store unavailable")
		})
	}
}
