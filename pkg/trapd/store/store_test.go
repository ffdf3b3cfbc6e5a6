package store_test

import (
	"context"
	"testing"

	"github.com/nyan-/snmptrapd/models"
	"github.com/nyan-/snmptrapd/pkg/trapd/store"
)

type recordingEvaluator struct {
	calls []string
}

func (r *recordingEvaluator) Evaluate(_ context.Context, id int64, source, oid, valueType, value, customPayload string) error {
	r.calls = append(r.calls, source)
	return nil
}

func TestPersisterInsertsAndEvaluates(t *testing.T) {
	mem := store.NewMemStore()
	eval := &recordingEvaluator{}
	p := store.New(mem, eval, nil, nil)

	trap := models.Trap{
		Version:       models.VersionV2,
		ReceivedAt:    "2024-01-15 10:20:30",
		Source:        "10.0.0.1",
		OID:           ".1.3.6.1.6.3.1.1.5.2",
		GenericType:   1,
		CustomPayload: "y",
	}
	p.Persist(context.Background(), trap)

	rows := mem.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.Source != "10.0.0.1" || row.OID != ".1.3.6.1.6.3.1.1.5.2" || row.GenericType != 1 || row.CustomOID != "y" {
		t.Errorf("unexpected row: %+v", row)
	}
	if len(eval.calls) != 1 || eval.calls[0] != "10.0.0.1" {
		t.Errorf("expected evaluator to be called once with source 10.0.0.1, got %v", eval.calls)
	}
}

func TestPersisterInsertFailureSkipsEvaluation(t *testing.T) {
	eval := &recordingEvaluator{}
	p := store.New(store.FailingStore{}, eval, nil, nil)

	p.Persist(context.Background(), models.Trap{Source: "10.0.0.1"})

	if len(eval.calls) != 0 {
		t.Errorf("expected evaluator not to be called after insert failure, got %v", eval.calls)
	}
}

func TestPersisterNilEvaluatorIsSkipped(t *testing.T) {
	mem := store.NewMemStore()
	p := store.New(mem, nil, nil, nil)

	p.Persist(context.Background(), models.Trap{Source: "10.0.0.1"})

	if len(mem.Rows()) != 1 {
		t.Fatalf("expected row to still be inserted, got %d", len(mem.Rows()))
	}
}
