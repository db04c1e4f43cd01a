package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/billsync/adapter/cli"
	"github.com/felixgeelhaar/billsync/internal/billing/application/ingest"
)

type fakeProcessor struct {
	events []ingest.Event
	err    error
}

func (p *fakeProcessor) Process(_ context.Context, ev ingest.Event) error {
	p.events = append(p.events, ev)
	return p.err
}

type fakePublisher struct {
	keys     []string
	payloads [][]byte
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, payload []byte) error {
	p.keys = append(p.keys, routingKey)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func resetFlags() {
	processEventPath = ""
	publishEventPath = ""
}

func writeEvent(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReadEvent(t *testing.T) {
	t.Run("payload form", func(t *testing.T) {
		ev, err := readEvent(writeEvent(t, `{"id":"evt_1","type":"invoice.created","payload":{"id":"in_1"}}`))
		require.NoError(t, err)
		assert.Equal(t, "evt_1", ev.ID)
		assert.JSONEq(t, `{"id":"in_1"}`, string(ev.Payload))
	})

	t.Run("provider envelope", func(t *testing.T) {
		ev, err := readEvent(writeEvent(t, `{"type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ev.ID, "evt_local_"))
		assert.JSONEq(t, `{"id":"ch_1"}`, string(ev.Payload))
	})

	t.Run("errors", func(t *testing.T) {
		_, err := readEvent("")
		assert.Error(t, err)

		_, err = readEvent(writeEvent(t, `{"id":"evt_1"}`))
		assert.ErrorContains(t, err, "type is required")

		_, err = readEvent(writeEvent(t, `not json`))
		assert.ErrorContains(t, err, "invalid event file")
	})
}

func TestProcessCmd(t *testing.T) {
	resetFlags()
	proc := &fakeProcessor{}
	cli.SetApp(&cli.App{Processor: proc})
	defer cli.SetApp(nil)

	processEventPath = writeEvent(t, `{"id":"evt_1","type":"invoice.payment_failed","payload":{"id":"in_1"}}`)
	var output strings.Builder
	processCmd.SetContext(context.Background())
	processCmd.SetOut(&output)

	require.NoError(t, processCmd.RunE(processCmd, nil))
	require.Len(t, proc.events, 1)
	assert.Equal(t, "invoice.payment_failed", proc.events[0].Type)
	assert.Contains(t, output.String(), "Processed invoice.payment_failed (evt_1)")

	proc.err = errors.New("store unavailable")
	assert.Error(t, processCmd.RunE(processCmd, nil))
}

func TestProcessCmd_NoApp(t *testing.T) {
	resetFlags()
	cli.SetApp(nil)
	processCmd.SetContext(context.Background())
	assert.Error(t, processCmd.RunE(processCmd, nil))
}

func TestPublishCmd(t *testing.T) {
	resetFlags()
	pub := &fakePublisher{}
	cli.SetApp(&cli.App{Publisher: pub})
	defer cli.SetApp(nil)

	publishEventPath = writeEvent(t, `{"id":"evt_1","type":"subscription.created","payload":{"id":"sub_1"}}`)
	var output strings.Builder
	publishCmd.SetContext(context.Background())
	publishCmd.SetOut(&output)

	require.NoError(t, publishCmd.RunE(publishCmd, nil))
	require.Equal(t, []string{"subscription.created"}, pub.keys)

	var body map[string]any
	require.NoError(t, json.Unmarshal(pub.payloads[0], &body))
	assert.Equal(t, "evt_1", body["id"])
	assert.Equal(t, "cli", body["metadata"].(map[string]any)["source"])
	assert.Contains(t, output.String(), "Published subscription.created")
}

func TestPublishCmd_RequiresPublisher(t *testing.T) {
	resetFlags()
	cli.SetApp(&cli.App{})
	defer cli.SetApp(nil)

	publishCmd.SetContext(context.Background())
	assert.ErrorContains(t, publishCmd.RunE(publishCmd, nil), "RABBITMQ_URL")
}
