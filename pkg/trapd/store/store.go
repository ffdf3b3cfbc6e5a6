// Package store defines the persistence collaborators the Persister depends
// on — the relational trap table and the alert-evaluation engine — and a
// Persister that wires a parsed trap into both.
//
// The canonical implementations of TrapStore and AlertEvaluator live outside
// this module (a real database and a real rules engine); MemStore and
// NoopAlertEvaluator are in-process reference implementations used by tests
// and by a standalone/dev deployment of the daemon.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nyan-/snmptrapd/models"
	"github.com/nyan-/snmptrapd/pkg/trapd/metrics"
)

// TrapStore inserts trap rows into durable storage and returns the generated
// row id.
type TrapStore interface {
	Insert(ctx context.Context, row models.TrapRow) (int64, error)
}

// AlertEvaluator is invoked once per persisted trap to let the downstream
// alerting engine decide whether the trap should raise or clear an alert. It
// runs after the insert and its failure does not undo the insert.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, id int64, source, oid, valueType, value, customPayload string) error
}

// Persister is the sole writer into trap storage: it builds a models.TrapRow
// from a parsed trap, inserts it, and hands the result to the configured
// AlertEvaluator. Inserts are independent — no multi-row transactions are
// required.
type Persister struct {
	store     TrapStore
	evaluator AlertEvaluator
	logger    *slog.Logger
	rec       metrics.Recorder

	now func() time.Time
}

// New constructs a Persister. evaluator may be nil, in which case evaluation
// is skipped entirely. logger and rec may be nil.
func New(store TrapStore, evaluator AlertEvaluator, logger *slog.Logger, rec metrics.Recorder) *Persister {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if rec == nil {
		rec = metrics.NewNoop()
	}
	return &Persister{
		store:     store,
		evaluator: evaluator,
		logger:    logger,
		rec:       rec,
		now:       time.Now,
	}
}

// Persist inserts trap and, on success, invokes the alert evaluator. A
// failed insert is logged and the trap is considered lost — the caller must
// not retry, since the tailer's checkpoint has already advanced past this
// record.
func (p *Persister) Persist(ctx context.Context, trap models.Trap) {
	now := p.now()
	row := models.TrapRow{
		Timestamp:   trap.ReceivedAt,
		Source:      trap.Source,
		OID:         trap.OID,
		GenericType: trap.GenericType,
		Value:       trap.Value,
		CustomOID:   trap.CustomPayload,
		CustomValue: "",
		CustomType:  "",
		UnixTime:    now.Unix(),
	}

	id, err := p.store.Insert(ctx, row)
	if err != nil {
		p.logger.Error("persist: insert failed, trap lost", "source", trap.Source, "oid", trap.OID, "error", err.Error())
		p.rec.IncPersistErrors()
		return
	}
	p.rec.IncPersisted()

	if p.evaluator == nil {
		return
	}
	if err := p.evaluator.Evaluate(ctx, id, trap.Source, trap.OID, trap.TypeDesc, trap.Value, trap.CustomPayload); err != nil {
		p.logger.Warn("persist: alert evaluation failed", "id", id, "source", trap.Source, "error", err.Error())
	}
}

// MemStore is an in-memory TrapStore, safe for concurrent use. It is not a
// substitute for a real database in production but gives the daemon a
// working default without one configured, and backs the package's tests.
type MemStore struct {
	mu     sync.Mutex
	rows   []models.TrapRow
	nextID int64
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{nextID: 1}
}

// Insert appends row and returns its generated id.
func (m *MemStore) Insert(_ context.Context, row models.TrapRow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.rows = append(m.rows, row)
	return id, nil
}

// Rows returns a snapshot copy of all inserted rows, for tests.
func (m *MemStore) Rows() []models.TrapRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TrapRow, len(m.rows))
	copy(out, m.rows)
	return out
}

// FailingStore is a TrapStore that always fails, for exercising the
// insert-failure path in tests.
type FailingStore struct{ Err error }

// Insert always returns the configured error.
func (f FailingStore) Insert(context.Context, models.TrapRow) (int64, error) {
	if f.Err != nil {
		return 0, f.Err
	}
	return 0, fmt.Errorf("store: insert failed")
}

// NoopAlertEvaluator discards every evaluation request. Used when no
// alerting engine is configured.
type NoopAlertEvaluator struct{}

// Evaluate is a no-op.
func (NoopAlertEvaluator) Evaluate(context.Context, int64, string, string, string, string, string) error {
	return nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
