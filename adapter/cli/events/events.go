package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/billsync/internal/billing/application/ingest"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/security"
)

// maxEventFileBytes caps event files read from disk.
const maxEventFileBytes = 1 << 20

// Cmd is the events command group.
var Cmd = &cobra.Command{
	Use:   "events",
	Short: "Apply or enqueue billing events",
	Long: `Apply a billing event to local state, or publish it to the worker queue.

Event files hold either {"id","type","payload"} or a provider event
envelope with the object under data.object.`,
}

func init() {
	Cmd.AddCommand(processCmd)
	Cmd.AddCommand(publishCmd)
}

type eventFile struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Data    *struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// readEvent loads an event file. Events without an id get a generated one.
func readEvent(path string) (ingest.Event, error) {
	if path == "" {
		return ingest.Event{}, errors.New("event path is required")
	}

	raw, err := security.SafeReadFile(path, maxEventFileBytes)
	if err != nil {
		return ingest.Event{}, err
	}

	var f eventFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return ingest.Event{}, fmt.Errorf("invalid event file: %w", err)
	}
	if f.Type == "" {
		return ingest.Event{}, errors.New("invalid event file: type is required")
	}

	ev := ingest.Event{ID: f.ID, Type: f.Type, Payload: f.Payload}
	if len(ev.Payload) == 0 && f.Data != nil {
		ev.Payload = f.Data.Object
	}
	if ev.ID == "" {
		ev.ID = "evt_local_" + uuid.NewString()
	}
	return ev, nil
}
