// Package storm implements per-source sliding-window rate limiting ("storm
// protection"): once a source exceeds a trap threshold within a window it is
// silenced for a configured period, with exactly one system event emitted per
// silencing transition.
package storm

import (
	"log/slog"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/nyan-/snmptrapd/models"
	"github.com/nyan-/snmptrapd/pkg/trapd/metrics"
)

// Config holds the storm-protection parameters.
type Config struct {
	// WindowSeconds is the sliding-window length. The window resets when
	// now exceeds the reference timestamp plus this many seconds.
	WindowSeconds int

	// Threshold is the per-window trap count above which a source is
	// silenced. Threshold <= 0 disables storm protection entirely.
	Threshold int

	// SilencePeriodSeconds is how long a silenced source stays silenced.
	// Zero falls back to WindowSeconds.
	SilencePeriodSeconds int
}

func (c Config) silenceDuration() time.Duration {
	if c.SilencePeriodSeconds > 0 {
		return time.Duration(c.SilencePeriodSeconds) * time.Second
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

// sourceStat tracks the per-window count and whether the one silencing event
// for the current silence period has already been emitted.
type sourceStat struct {
	count        int
	eventEmitted bool
}

// Guard is the storm-protection component. It is touched only by the
// single producer goroutine (the Dispatcher's per-tick routine), so the
// per-source counters need no internal synchronization, which is why Guard
// carries no mutex — callers must not share a Guard across goroutines
// without adding one.
type Guard struct {
	cfg    Config
	logger *slog.Logger
	rec    metrics.Recorder

	stormRef time.Time
	stats    map[string]*sourceStat

	// silenced holds source -> silence_until. Entries are stored with
	// cache.NoExpiration: go-cache's own eviction clock is real wall-clock
	// time, which would desync from the now passed into Admit/ResetWindow
	// (and break deterministic tests that fast-forward now without
	// sleeping), so expiry is instead checked explicitly against the
	// caller-supplied now on every lookup.
	silenced *cache.Cache
}

// New constructs a Guard. logger and rec may be nil; rec defaults to a
// no-op recorder.
func New(cfg Config, logger *slog.Logger, rec metrics.Recorder) *Guard {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if rec == nil {
		rec = metrics.NewNoop()
	}
	return &Guard{
		cfg:      cfg,
		logger:   logger,
		rec:      rec,
		stormRef: time.Time{},
		stats:    make(map[string]*sourceStat),
		silenced: cache.New(cache.NoExpiration, time.Minute),
	}
}

// ResetWindow resets the sliding window and clears all per-source counters
// when now has passed the end of the current window, or unconditionally when
// lockModePerTick is true (enabling per-source locking makes the window
// effectively per-tick).
func (g *Guard) ResetWindow(now time.Time, lockModePerTick bool) {
	windowElapsed := g.stormRef.IsZero() ||
		now.After(g.stormRef.Add(time.Duration(g.cfg.WindowSeconds)*time.Second))
	if windowElapsed || lockModePerTick {
		g.stormRef = now
		g.stats = make(map[string]*sourceStat)
	}
}

// Decision is the outcome of Admit for a single trap.
type Decision int

const (
	// Admitted means the trap should proceed through the pipeline.
	Admitted Decision = iota
	// DroppedSilenced means the source is currently under a silence period.
	DroppedSilenced
	// DroppedStorm means this trap tipped the source over the threshold;
	// Event is populated exactly once per silencing transition.
	DroppedStorm
)

// Admit applies the storm-protection decision table to a single trap from
// source at time now. event is non-nil only on the tick a source is first
// silenced.
func (g *Guard) Admit(source string, now time.Time) (decision Decision, event *models.SilenceEvent) {
	stat := g.stats[source]
	if stat == nil {
		stat = &sourceStat{}
		g.stats[source] = stat
	}
	stat.count++

	if v, found := g.silenced.Get(source); found {
		until := v.(time.Time)
		if now.Before(until) {
			g.rec.IncTrapsDropped("storm_silenced")
			return DroppedSilenced, nil
		}
		g.silenced.Delete(source)
		g.rec.SetActiveSilences(g.silenced.ItemCount())
	}

	if g.cfg.Threshold > 0 && stat.count > g.cfg.Threshold {
		g.rec.IncTrapsDropped("storm_threshold")
		if !stat.eventEmitted {
			d := g.cfg.silenceDuration()
			g.silenced.Set(source, now.Add(d), cache.NoExpiration)
			stat.eventEmitted = true
			g.rec.IncSilenceEvents()
			g.rec.SetActiveSilences(g.silenced.ItemCount())
			ev := &models.SilenceEvent{
				Source:         source,
				SilenceSeconds: int(d.Seconds()),
				TrapCount:      stat.count,
			}
			g.logger.Warn("storm: too many traps, silencing source",
				"source", source, "count", stat.count, "silence_seconds", ev.SilenceSeconds)
			return DroppedStorm, ev
		}
		return DroppedStorm, nil
	}

	return Admitted, nil
}

// ActiveSilences returns the number of silence entries held (used for tests
// and metrics snapshotting outside the Recorder callback). An expired entry
// is removed only when its source's next trap reaches Admit, so until then
// it is still counted here.
func (g *Guard) ActiveSilences() int {
	return g.silenced.ItemCount()
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
