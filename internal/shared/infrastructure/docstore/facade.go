package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/felixgeelhaar/billsync/pkg/observability"
)

// FacadeConfig configures the storage facade.
type FacadeConfig struct {
	// PrimaryTimeout bounds every primary call. A timeout is a primary failure.
	PrimaryTimeout time.Duration

	// FailureThreshold is the number of consecutive primary failures that
	// opens the circuit breaker.
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration

	// MirrorWrites copies every successful primary write to the local store.
	MirrorWrites bool

	// Locker serializes read-modify-write cycles on a collection across
	// processes sharing the primary. Nil limits serialization to this process.
	Locker Locker

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// DefaultFacadeConfig returns the default facade configuration.
func DefaultFacadeConfig() FacadeConfig {
	return FacadeConfig{
		PrimaryTimeout:   5 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		MirrorWrites:     true,
	}
}

// Locker acquires an exclusive lock on a key. The returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// unreplicatedCollection lists, in the local store, the collections whose
// latest write reached only the local store.
const unreplicatedCollection = "_unreplicated"

// Facade unifies the primary remote store and the durable local store behind
// one collection contract, falling back to the local store whenever the
// primary fails and tracking backend health for the status surface.
type Facade struct {
	primary Store
	local   Store
	breaker *gobreaker.CircuitBreaker[any]
	config  FacadeConfig
	logger  *slog.Logger
	metrics *observability.Metrics

	locks keyedMutex

	mu     sync.RWMutex
	status Status

	backlogMu     sync.Mutex
	backlog       map[string]bool
	backlogLoaded bool
}

// NewFacade creates a facade. A nil primary runs the facade on the local store alone.
func NewFacade(primary, local Store, config FacadeConfig) *Facade {
	defaults := DefaultFacadeConfig()
	if config.PrimaryTimeout <= 0 {
		config.PrimaryTimeout = defaults.PrimaryTimeout
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = defaults.OpenTimeout
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	f := &Facade{
		primary: primary,
		local:   local,
		config:  config,
		logger:  logger.With("component", "storage"),
		metrics: config.Metrics,
		backlog: make(map[string]bool),
	}

	dbType := local.Name()
	if primary != nil {
		dbType = primary.Name()
		f.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        primary.Name(),
			MaxRequests: 1,
			Timeout:     config.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				f.logger.Info("circuit breaker state changed",
					"backend", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		})
	}

	f.status = Status{DBType: dbType, State: StateInitializing}
	f.metrics.SetStorageState(string(StateInitializing))
	return f
}

// Status returns a snapshot of backend health.
func (f *Facade) Status() Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s := f.status
	if s.Error != nil {
		msg := *s.Error
		s.Error = &msg
	}
	return s
}

// Read returns the collection. The primary is preferred while it is healthy;
// once it has failed, reads are served from the local store first. A
// collection with unreplicated local writes always includes its local records.
func (f *Facade) Read(ctx context.Context, collection string) ([]Record, error) {
	if f.primary == nil {
		records, err := f.readLocal(ctx, collection)
		if err != nil {
			f.markFailed(err)
			return nil, fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, collection, err)
		}
		f.markHealthy()
		return records, nil
	}

	if f.unreplicated(ctx, collection) {
		records, err := f.readMerged(ctx, collection)
		if err == nil {
			return records, nil
		}
		// local store unreadable: answer from the primary, possibly stale
		records, primaryErr := f.readPrimary(ctx, collection)
		if primaryErr != nil {
			return nil, f.unavailable(ctx, collection, primaryErr, err)
		}
		return records, nil
	}

	if f.preferPrimary() {
		return f.readPrimaryFirst(ctx, collection)
	}

	records, localErr := f.readLocal(ctx, collection)
	if localErr == nil {
		f.markLocalSuccess()
		return records, nil
	}

	records, err := f.readPrimary(ctx, collection)
	if err != nil {
		return nil, f.unavailable(ctx, collection, err, localErr)
	}
	f.markHealthy()
	return records, nil
}

// Write replaces the collection. It fails only when neither backend stored it.
func (f *Facade) Write(ctx context.Context, collection string, records []Record) error {
	if err := validateRecords(records); err != nil {
		return err
	}

	unlock, err := f.lockCollection(ctx, collection)
	if err != nil {
		return err
	}
	defer unlock()

	return f.write(ctx, collection, records)
}

// InsertOne appends a record to the collection.
func (f *Facade) InsertOne(ctx context.Context, collection string, record Record) error {
	if record.ID() == "" {
		return fmt.Errorf("%w: record has no id", ErrInvalidRecord)
	}

	unlock, err := f.lockCollection(ctx, collection)
	if err != nil {
		return err
	}
	defer unlock()

	records, err := f.readBase(ctx, collection)
	if err != nil {
		return err
	}
	for _, existing := range records {
		if existing.ID() == record.ID() {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateRecord, collection, record.ID())
		}
	}

	return f.write(ctx, collection, append(records, record.Clone()))
}

// UpdateOne merges patch into the first record matching filter.
// It reports false when no record matched.
func (f *Facade) UpdateOne(ctx context.Context, collection string, filter, patch Record) (bool, error) {
	unlock, err := f.lockCollection(ctx, collection)
	if err != nil {
		return false, err
	}
	defer unlock()

	records, err := f.readBase(ctx, collection)
	if err != nil {
		return false, err
	}

	for i, rec := range records {
		if !rec.Matches(filter) {
			continue
		}
		records[i] = rec.Merge(patch)
		if err := f.write(ctx, collection, records); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, nil
}

// Probe pings the primary so a recovered primary returns reads to it, and a
// lost primary moves reads to the local store before the next request fails.
// Once the primary answers, collections written only locally are replicated.
func (f *Facade) Probe(ctx context.Context) error {
	if f.primary == nil {
		if err := f.local.Ping(ctx); err != nil {
			f.markFailed(err)
			return err
		}
		f.markHealthy()
		return nil
	}

	_, err := f.callPrimary(ctx, "ping", "", func(ctx context.Context) (any, error) {
		return nil, f.primary.Ping(ctx)
	})
	if err != nil {
		if f.Status().State != StateFailed {
			f.markDegraded(err)
		}
		return err
	}
	f.markHealthy()
	return f.replicate(ctx)
}

// Unreplicated returns the collections holding local writes the primary has
// not received yet, sorted by name.
func (f *Facade) Unreplicated() []string {
	f.backlogMu.Lock()
	defer f.backlogMu.Unlock()
	names := make([]string, 0, len(f.backlog))
	for name := range f.backlog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes both backends.
func (f *Facade) Close() error {
	var errs []error
	if f.primary != nil {
		errs = append(errs, f.primary.Close())
	}
	errs = append(errs, f.local.Close())
	return errors.Join(errs...)
}

func (f *Facade) write(ctx context.Context, collection string, records []Record) error {
	if f.primary == nil {
		if err := f.writeLocal(ctx, collection, records); err != nil {
			f.markFailed(err)
			f.logger.ErrorContext(ctx, "local store write failed",
				observability.CollectionKey, collection,
				observability.ErrorKey, err,
			)
			return fmt.Errorf("%w: %s: %v", ErrDurableWriteFailure, collection, err)
		}
		f.markHealthy()
		return nil
	}

	_, err := f.callPrimary(ctx, "write", collection, func(ctx context.Context) (any, error) {
		return nil, f.primary.WriteCollection(ctx, collection, records)
	})
	if err == nil {
		f.markHealthy()
		f.setUnreplicated(ctx, collection, false)
		if f.config.MirrorWrites {
			if mirrorErr := f.writeLocal(ctx, collection, records); mirrorErr != nil {
				f.logger.WarnContext(ctx, "local mirror write failed",
					observability.CollectionKey, collection,
					observability.ErrorKey, mirrorErr,
				)
			}
		}
		return nil
	}

	f.logger.WarnContext(ctx, "primary write failed, falling back to local store",
		observability.CollectionKey, collection,
		observability.ErrorKey, err,
	)

	if localErr := f.writeLocal(ctx, collection, records); localErr != nil {
		combined := errors.Join(err, localErr)
		f.markFailed(combined)
		f.logger.ErrorContext(ctx, "write failed on both backends",
			observability.CollectionKey, collection,
			observability.ErrorKey, combined,
		)
		return fmt.Errorf("%w: %s: %v", ErrDurableWriteFailure, collection, combined)
	}

	f.metrics.RecordFallback("write")
	f.markDegraded(err)
	f.setUnreplicated(ctx, collection, true)
	return nil
}

// lockCollection serializes read-modify-write cycles on collection, first in
// process and then, when a Locker is configured, across processes.
func (f *Facade) lockCollection(ctx context.Context, collection string) (func(), error) {
	unlock := f.locks.lock(collection)
	if f.config.Locker == nil || f.primary == nil {
		return unlock, nil
	}

	release, err := f.config.Locker.Lock(ctx, "collection:"+collection)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("%w: %s: lock: %v", ErrDurableWriteFailure, collection, err)
	}
	return func() {
		release()
		unlock()
	}, nil
}

// readBase returns the snapshot a read-modify-write builds on. The primary is
// asked first so changes made by other processes are kept. A collection with
// unreplicated local writes is never rebuilt without its local records.
func (f *Facade) readBase(ctx context.Context, collection string) ([]Record, error) {
	if f.primary == nil {
		return f.Read(ctx, collection)
	}
	if f.unreplicated(ctx, collection) {
		return f.readMerged(ctx, collection)
	}
	return f.readPrimaryFirst(ctx, collection)
}

func (f *Facade) readPrimaryFirst(ctx context.Context, collection string) ([]Record, error) {
	records, err := f.readPrimary(ctx, collection)
	if err == nil {
		f.markHealthy()
		return records, nil
	}

	f.logger.WarnContext(ctx, "primary read failed, falling back to local store",
		observability.CollectionKey, collection,
		observability.ErrorKey, err,
	)
	records, localErr := f.readLocal(ctx, collection)
	if localErr != nil {
		return nil, f.unavailable(ctx, collection, err, localErr)
	}
	f.metrics.RecordFallback("read")
	f.markDegraded(err)
	return records, nil
}

// readMerged reads an unreplicated collection: the local records, followed by
// primary records whose ids the local store does not hold. The local store
// must answer; the primary is optional.
func (f *Facade) readMerged(ctx context.Context, collection string) ([]Record, error) {
	records, err := f.readLocal(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, collection, err)
	}
	f.markLocalSuccess()

	remote, err := f.readPrimary(ctx, collection)
	if err != nil {
		f.markDegraded(err)
		return records, nil
	}
	return mergeRecords(records, remote), nil
}

// replicate pushes every unreplicated collection to the primary.
func (f *Facade) replicate(ctx context.Context) error {
	var errs []error
	for _, collection := range f.Unreplicated() {
		if err := f.replicateCollection(ctx, collection); err != nil {
			var transient *TransientError
			if errors.As(err, &transient) {
				f.markDegraded(err)
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Facade) replicateCollection(ctx context.Context, collection string) error {
	unlock, err := f.lockCollection(ctx, collection)
	if err != nil {
		return err
	}
	defer unlock()

	// a write may have replicated it while we waited for the lock
	if !f.unreplicated(ctx, collection) {
		return nil
	}

	records, err := f.readMerged(ctx, collection)
	if err != nil {
		return err
	}
	_, err = f.callPrimary(ctx, "write", collection, func(ctx context.Context) (any, error) {
		return nil, f.primary.WriteCollection(ctx, collection, records)
	})
	if err != nil {
		return err
	}
	if f.config.MirrorWrites {
		if mirrorErr := f.writeLocal(ctx, collection, records); mirrorErr != nil {
			f.logger.WarnContext(ctx, "local mirror write failed",
				observability.CollectionKey, collection,
				observability.ErrorKey, mirrorErr,
			)
		}
	}

	f.setUnreplicated(ctx, collection, false)
	f.logger.InfoContext(ctx, "replicated local writes to primary",
		observability.CollectionKey, collection,
		"records", len(records),
	)
	return nil
}

// unreplicated reports whether collection has local writes the primary has not seen.
func (f *Facade) unreplicated(ctx context.Context, collection string) bool {
	if f.primary == nil {
		return false
	}
	f.backlogMu.Lock()
	defer f.backlogMu.Unlock()
	f.loadBacklog(ctx)
	return f.backlog[collection]
}

// setUnreplicated updates the backlog and persists it to the local store so
// a restart keeps serving those collections from local records.
func (f *Facade) setUnreplicated(ctx context.Context, collection string, pending bool) {
	f.backlogMu.Lock()
	defer f.backlogMu.Unlock()
	f.loadBacklog(ctx)
	if f.backlog[collection] == pending {
		return
	}
	if pending {
		f.backlog[collection] = true
	} else {
		delete(f.backlog, collection)
	}
	f.metrics.SetUnreplicated(len(f.backlog))

	names := make([]string, 0, len(f.backlog))
	for name := range f.backlog {
		names = append(names, name)
	}
	sort.Strings(names)
	records := make([]Record, 0, len(names))
	for _, name := range names {
		records = append(records, Record{"id": name})
	}
	if err := f.local.WriteCollection(ctx, unreplicatedCollection, records); err != nil {
		f.logger.WarnContext(ctx, "failed to persist replication backlog",
			observability.CollectionKey, collection,
			observability.ErrorKey, err,
		)
	}
}

// loadBacklog reads the persisted backlog once. Callers hold backlogMu.
func (f *Facade) loadBacklog(ctx context.Context) {
	if f.backlogLoaded {
		return
	}
	records, err := f.local.ReadCollection(ctx, unreplicatedCollection)
	if err != nil {
		f.logger.WarnContext(ctx, "failed to load replication backlog", observability.ErrorKey, err)
		return
	}
	for _, rec := range records {
		f.backlog[rec.ID()] = true
	}
	f.backlogLoaded = true
	f.metrics.SetUnreplicated(len(f.backlog))
}

func mergeRecords(local, remote []Record) []Record {
	seen := make(map[string]bool, len(local))
	for _, rec := range local {
		seen[rec.ID()] = true
	}
	merged := local
	for _, rec := range remote {
		if !seen[rec.ID()] {
			merged = append(merged, rec)
		}
	}
	return merged
}

func (f *Facade) readPrimary(ctx context.Context, collection string) ([]Record, error) {
	res, err := f.callPrimary(ctx, "read", collection, func(ctx context.Context) (any, error) {
		return f.primary.ReadCollection(ctx, collection)
	})
	if err != nil {
		return nil, err
	}
	records, _ := res.([]Record)
	return records, nil
}

// callPrimary runs fn against the primary under the breaker and the primary timeout.
func (f *Facade) callPrimary(ctx context.Context, op, collection string, fn func(context.Context) (any, error)) (any, error) {
	start := time.Now()
	res, err := f.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, f.config.PrimaryTimeout)
		defer cancel()
		return fn(callCtx)
	})
	f.metrics.RecordStorageOperation(f.primary.Name(), op, err, time.Since(start))
	if err != nil {
		return nil, &TransientError{Backend: f.primary.Name(), Op: op, Collection: collection, Err: err}
	}
	return res, nil
}

func (f *Facade) readLocal(ctx context.Context, collection string) ([]Record, error) {
	start := time.Now()
	records, err := f.local.ReadCollection(ctx, collection)
	f.metrics.RecordStorageOperation(f.local.Name(), "read", err, time.Since(start))
	return records, err
}

func (f *Facade) writeLocal(ctx context.Context, collection string, records []Record) error {
	start := time.Now()
	err := f.local.WriteCollection(ctx, collection, records)
	f.metrics.RecordStorageOperation(f.local.Name(), "write", err, time.Since(start))
	return err
}

func (f *Facade) unavailable(ctx context.Context, collection string, primaryErr, localErr error) error {
	combined := errors.Join(primaryErr, localErr)
	f.markFailed(combined)
	f.logger.ErrorContext(ctx, "read failed on both backends",
		observability.CollectionKey, collection,
		observability.ErrorKey, combined,
	)
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, collection, combined)
}

func (f *Facade) preferPrimary() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status.State == StateInitializing || f.status.State == StateCompleted
}

// markHealthy records a success on the configured backend.
func (f *Facade) markHealthy() {
	f.transition(StateCompleted, true, nil, true)
}

// markLocalSuccess demotes failed to degraded; any other state is kept.
func (f *Facade) markLocalSuccess() {
	f.mu.RLock()
	failed := f.status.State == StateFailed
	f.mu.RUnlock()
	if failed {
		f.transition(StateDegraded, false, nil, false)
	}
}

func (f *Facade) markDegraded(err error) {
	f.transition(StateDegraded, false, err, false)
}

func (f *Facade) markFailed(err error) {
	f.transition(StateFailed, false, err, false)
}

// transition sets the new state. A nil err keeps the retained error unless
// clearErr is set.
func (f *Facade) transition(state State, connected bool, err error, clearErr bool) {
	f.mu.Lock()
	from := f.status.State
	f.status.State = state
	f.status.Connected = connected
	switch {
	case err != nil:
		msg := err.Error()
		f.status.Error = &msg
	case clearErr:
		f.status.Error = nil
	}
	f.mu.Unlock()

	if from != state {
		f.logger.Info("storage state changed",
			"from", string(from),
			"to", string(state),
		)
		f.metrics.SetStorageState(string(state))
	}
}
