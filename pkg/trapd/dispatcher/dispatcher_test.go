package dispatcher_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nyan-/snmptrapd/models"
	"github.com/nyan-/snmptrapd/pkg/trapd/dispatcher"
	"github.com/nyan-/snmptrapd/pkg/trapd/lock"
	"github.com/nyan-/snmptrapd/pkg/trapd/storm"
	"github.com/nyan-/snmptrapd/pkg/trapd/store"
	"github.com/nyan-/snmptrapd/pkg/trapd/tailer"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "snmptrapd.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDispatcherEndToEndInsertsRow(t *testing.T) {
	line := "SNMPv2[**]2024-01-15[**]10:20:30[**]10.0.0.1[**]x\t.1.3.6.1.6.3.1.1.5.2\ty\n"
	path := writeLog(t, line)

	tl, err := tailer.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()

	mem := store.NewMemStore()
	persister := store.New(mem, store.NoopAlertEvaluator{}, nil, nil)
	stormGuard := storm.New(storm.Config{WindowSeconds: 60}, nil, nil)
	locker := lock.New(false)

	d := dispatcher.New(
		dispatcher.Config{Tick: 10 * time.Millisecond, Threads: 2},
		[]tailer.Source{tl},
		stormGuard,
		locker,
		nil,
		nil,
		persister,
		nil,
		nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go d.Run(ctx)

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		if len(mem.Rows()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	rows := mem.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 inserted row, got %d", len(rows))
	}
	if rows[0].Source != "10.0.0.1" {
		t.Errorf("source = %q, want 10.0.0.1", rows[0].Source)
	}
	if rows[0].OID != ".1.3.6.1.6.3.1.1.5.2" {
		t.Errorf("oid = %q", rows[0].OID)
	}
}

// trapLine builds a v2-dialect log line for source, tagging the trap's OID
// with seq so the test can recover file order from the persisted rows.
func trapLine(source string, seq int) string {
	return fmt.Sprintf("SNMPv2[**]2024-01-15[**]10:20:30[**]%s[**]x\t.1.3.6.1.4.1.9999.%d\ty\n", source, seq)
}

func seqFromOID(oid string) int {
	parts := strings.Split(oid, ".")
	n, _ := strconv.Atoi(parts[len(parts)-1])
	return n
}

// orderTrackingStore is a TrapStore that records, for every Insert, whether
// another Insert for the same source was already in flight — the invariant
// per-source locking is supposed to make impossible — and holds each Insert
// open briefly to widen the race window a broken lock would expose.
type orderTrackingStore struct {
	mu        sync.Mutex
	inflight  map[string]bool
	violation string
	rows      []models.TrapRow
	nextID    int64
}

func newOrderTrackingStore() *orderTrackingStore {
	return &orderTrackingStore{inflight: make(map[string]bool), nextID: 1}
}

func (s *orderTrackingStore) Insert(_ context.Context, row models.TrapRow) (int64, error) {
	s.mu.Lock()
	if s.inflight[row.Source] {
		s.violation = fmt.Sprintf("source %s inserted concurrently with another insert for the same source", row.Source)
	}
	s.inflight[row.Source] = true
	s.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[row.Source] = false
	id := s.nextID
	s.nextID++
	s.rows = append(s.rows, row)
	return id, nil
}

func (s *orderTrackingStore) Rows() []models.TrapRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TrapRow, len(s.rows))
	copy(out, s.rows)
	return out
}

// TestDispatcherLockModeSerializesInterleavedSources drives two sources
// interleaved A,B,A,B,A through the dispatcher with per-source locking on,
// verifying both that no two workers ever process the same source
// concurrently and that each source's traps are persisted in file order.
func TestDispatcherLockModeSerializesInterleavedSources(t *testing.T) {
	const sourceA, sourceB = "10.0.0.1", "10.0.0.2"
	content := trapLine(sourceA, 1) + trapLine(sourceB, 2) + trapLine(sourceA, 3) +
		trapLine(sourceB, 4) + trapLine(sourceA, 5)
	path := writeLog(t, content)

	tl, err := tailer.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()

	trapStore := newOrderTrackingStore()
	persister := store.New(trapStore, store.NoopAlertEvaluator{}, nil, nil)
	stormGuard := storm.New(storm.Config{WindowSeconds: 60}, nil, nil)
	locker := lock.New(true)

	d := dispatcher.New(
		dispatcher.Config{Tick: 10 * time.Millisecond, Threads: 4, LockMode: true},
		[]tailer.Source{tl},
		stormGuard,
		locker,
		nil,
		nil,
		persister,
		nil,
		nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	go d.Run(ctx)

	deadline := time.Now().Add(900 * time.Millisecond)
	for time.Now().Before(deadline) {
		if len(trapStore.Rows()) >= 5 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	rows := trapStore.Rows()
	if len(rows) != 5 {
		t.Fatalf("expected 5 inserted rows, got %d", len(rows))
	}
	if trapStore.violation != "" {
		t.Fatalf("lock violation: %s", trapStore.violation)
	}

	var aSeq, bSeq []int
	for _, r := range rows {
		switch r.Source {
		case sourceA:
			aSeq = append(aSeq, seqFromOID(r.OID))
		case sourceB:
			bSeq = append(bSeq, seqFromOID(r.OID))
		default:
			t.Fatalf("unexpected source %q", r.Source)
		}
	}
	if len(aSeq) != 3 || len(bSeq) != 2 {
		t.Fatalf("expected 3 traps for %s and 2 for %s, got %v / %v", sourceA, sourceB, aSeq, bSeq)
	}
	if !sort.IntsAreSorted(aSeq) {
		t.Errorf("source %s out of file order: %v", sourceA, aSeq)
	}
	if !sort.IntsAreSorted(bSeq) {
		t.Errorf("source %s out of file order: %v", sourceB, bSeq)
	}
}
