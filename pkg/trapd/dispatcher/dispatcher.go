// Package dispatcher implements the producer/consumer scheduling core: a
// single producer goroutine ticks at a fixed cadence, drains every tailer,
// applies storm protection and per-source locking, and hands granted lines
// to a worker pool that parses, filters, forwards, and persists each trap.
package dispatcher

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nyan-/snmptrapd/pkg/trapd/filter"
	"github.com/nyan-/snmptrapd/pkg/trapd/lock"
	"github.com/nyan-/snmptrapd/pkg/trapd/metrics"
	"github.com/nyan-/snmptrapd/pkg/trapd/storm"
	"github.com/nyan-/snmptrapd/pkg/trapd/store"
	"github.com/nyan-/snmptrapd/pkg/trapd/tailer"
	"github.com/nyan-/snmptrapd/snmp/forward"
	"github.com/nyan-/snmptrapd/snmp/parser"
)

// rotator is implemented by file-backed tailer.Source values; the
// carry-over buffer doesn't need rotation checks and simply doesn't satisfy
// this interface.
type rotator interface {
	CheckRotation() error
}

// checkpointer is implemented by file-backed tailer.Source values; the
// carry-over buffer has no on-disk cursor and simply doesn't satisfy this
// interface.
type checkpointer interface {
	Checkpoint() error
}

const fieldDelim = "[**]"

// Config holds the Dispatcher's tunables.
type Config struct {
	Tick      time.Duration
	Threads   int
	LockMode  bool
	ParseOpts parser.Options
	Delay     time.Duration
}

// Dispatcher runs the producer tick loop and owns the worker pool.
type Dispatcher struct {
	cfg Config

	tailers   []tailer.Source
	carryOver *carryOverBuffer

	storm     *storm.Guard
	locker    *lock.Locker
	filterEng atomic.Pointer[filter.Engine]
	forwarder *forward.Forwarder
	persister *store.Persister

	pool   *Pool
	logger *slog.Logger
	rec    metrics.Recorder

	now func() time.Time
}

// New constructs a Dispatcher. tailers is drained in order: carry-over
// buffer first, then each tailer given, matching the producer's required
// draining order.
func New(
	cfg Config,
	tailers []tailer.Source,
	stormGuard *storm.Guard,
	locker *lock.Locker,
	filterEng *filter.Engine,
	forwarder *forward.Forwarder,
	persister *store.Persister,
	logger *slog.Logger,
	rec metrics.Recorder,
) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if rec == nil {
		rec = metrics.NewNoop()
	}
	d := &Dispatcher{
		cfg:       cfg,
		tailers:   tailers,
		carryOver: newCarryOverBuffer(),
		storm:     stormGuard,
		locker:    locker,
		forwarder: forwarder,
		persister: persister,
		logger:    logger,
		rec:       rec,
		now:       time.Now,
	}
	d.filterEng.Store(filterEng)
	d.pool = NewPool(cfg.Threads, d.consume, logger)
	return d
}

// SetFilterEngine atomically replaces the filter engine every subsequent
// consume call uses, letting a caller reload filter groups without
// restarting the Dispatcher. engine may be nil to disable filtering.
func (d *Dispatcher) SetFilterEngine(engine *filter.Engine) {
	d.filterEng.Store(engine)
}

// Run starts the worker pool and ticks the producer until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.pool.Start(ctx)
	defer d.pool.Stop()

	ticker := time.NewTicker(d.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick runs one producer pass: reset the storm window, snapshot the lock
// set, drain every source in order, and submit the granted batch to the
// worker pool, blocking until it completes before returning.
func (d *Dispatcher) tick(ctx context.Context) {
	now := d.now()
	d.storm.ResetWindow(now, d.cfg.LockMode)

	for _, t := range d.tailers {
		if r, ok := t.(rotator); ok {
			if err := r.CheckRotation(); err != nil {
				d.logger.Warn("dispatcher: rotation check failed", "source", t.Name(), "error", err.Error())
			}
		}
	}

	snap := d.locker.Snapshot()
	nextCarryOver := newCarryOverBuffer()
	var batch []Task

	drain := func(src tailer.Source) {
		cp, hasCheckpoint := src.(checkpointer)
		for {
			line, ok := src.Next()
			if !ok {
				return
			}
			if hasCheckpoint {
				// Checkpoint immediately after the read that produced this
				// line, before any of it is processed. After a crash anywhere
				// downstream — storm/lock decisions, the worker pool, a
				// persist failure — the reopened tailer resumes after this
				// line: lines already read are not read again, so any of
				// them not yet persisted are lost.
				if err := cp.Checkpoint(); err != nil {
					d.logger.Warn("dispatcher: checkpoint failed", "source", src.Name(), "error", err.Error())
				}
			}
			if !parser.Prefilter.MatchString(line) {
				d.rec.IncTrapsDropped("prefilter")
				continue
			}
			source := extractSource(line)
			d.rec.IncTrapsReceived(source)

			decision, event := d.storm.Admit(source, now)
			if event != nil {
				d.logger.Warn("storm: too many traps, silencing source",
					"source", event.Source, "silence_seconds", event.SilenceSeconds)
			}
			switch decision {
			case storm.DroppedSilenced, storm.DroppedStorm:
				continue
			}

			if !snap.Acquire(source) {
				nextCarryOver.Push(line)
				continue
			}
			d.locker.Acquire(source)
			batch = append(batch, Task{Source: source, Line: line})
		}
	}

	drain(d.carryOver)
	for _, t := range d.tailers {
		drain(t)
	}

	d.carryOver = nextCarryOver

	d.pool.SubmitBatch(ctx, batch)
}

// consume is the worker-pool hook: parse, filter, forward, persist, release.
func (d *Dispatcher) consume(ctx context.Context, task Task) {
	defer d.locker.Release(task.Source)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatcher: worker panic recovered", "source", task.Source, "panic", r)
		}
	}()

	trap, ok, reason := parser.Parse(task.Line, d.cfg.ParseOpts)
	if !ok {
		d.logger.Warn("dispatcher: dropping unparseable trap", "source", task.Source, "reason", reason)
		d.rec.IncTrapsDropped(reason)
		return
	}

	if eng := d.filterEng.Load(); eng != nil && eng.Match(trap.RawTail) {
		d.rec.IncTrapsFiltered()
		return
	}

	if d.forwarder != nil {
		d.forwarder.Forward(trap)
	}

	d.persister.Persist(ctx, trap)

	if d.cfg.Delay > 0 {
		time.Sleep(d.cfg.Delay)
	}
}

// extractSource pulls the raw source field cheaply, for the producer's
// storm/lock decisions, without running the full dialect-specific parse —
// the worker re-parses the whole line once it has actually been granted.
// Both dialects place the raw (not yet normalized) source in field index 3.
func extractSource(line string) string {
	fields := strings.Split(line, fieldDelim)
	if len(fields) < 4 {
		return ""
	}
	return strings.TrimSpace(fields[3])
}

// carryOverBuffer is the in-memory, non-persisted queue of lines deferred by
// a refused lock acquire; it becomes the highest-priority tailer input on
// the next tick.
type carryOverBuffer struct {
	lines []string
	pos   int
}

func newCarryOverBuffer() *carryOverBuffer {
	return &carryOverBuffer{}
}

func (b *carryOverBuffer) Push(line string) {
	b.lines = append(b.lines, line)
}

// Next implements tailer.Source.
func (b *carryOverBuffer) Next() (string, bool) {
	if b.pos >= len(b.lines) {
		return "", false
	}
	line := b.lines[b.pos]
	b.pos++
	return line, true
}

// Name implements tailer.Source.
func (b *carryOverBuffer) Name() string { return "carry-over" }
