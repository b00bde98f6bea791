package mangle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Lechros/chatda/internal/config"
)

func newTestEngine(t *testing.T, limit int) *Engine {
	t.Helper()
	engine, err := NewEngine(config.MangleConfig{Enable: true, FactBufferLimit: limit}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if !engine.Ready() {
		t.Fatal("engine not ready after schema load")
	}
	return engine
}

func record(t *testing.T, engine *Engine, predicate string, args ...interface{}) {
	t.Helper()
	if err := engine.AddFacts(context.Background(), []Fact{{Predicate: predicate, Args: args}}); err != nil {
		t.Fatalf("AddFacts(%s) failed: %v", predicate, err)
	}
}

func TestEngineAddFacts(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()

	facts := []Fact{
		{Predicate: "page_context", Args: []interface{}{"https://x/refrigerators/RF1/", "detail", "RF1"}},
		{Predicate: "compare_added", Args: []interface{}{"RF1", "BESPOKE", "1-1"}},
		{Predicate: "panel_state", Args: []interface{}{true, false, "none"}},
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	if got := len(engine.Facts()); got != 3 {
		t.Errorf("expected 3 buffered facts, got %d", got)
	}
	if got := len(engine.FactsByPredicate("compare_added")); got != 1 {
		t.Errorf("expected 1 compare_added, got %d", got)
	}
	for _, f := range engine.Facts() {
		if f.Timestamp.IsZero() {
			t.Errorf("expected %s to be timestamped", f.Predicate)
		}
	}
}

func TestEngineDerivesRules(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()

	record(t, engine, "compare_added", "RF1", "A", "1-1")
	record(t, engine, "compare_added", "RF2", "B", "1-2")
	record(t, engine, "page_context", "https://x/refrigerators/RF2/", "detail", "RF2")

	compared, err := engine.Query(ctx, "compared(M).")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(compared) != 2 {
		t.Fatalf("expected 2 compared rows, got %d: %v", len(compared), compared)
	}

	both, err := engine.Query(ctx, "compared_on_detail(M).")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(both) != 1 || both[0]["M"] != "RF2" {
		t.Errorf("expected RF2 compared on detail, got %v", both)
	}

	derived, err := engine.Derived("detail_visit")
	if err != nil {
		t.Fatalf("Derived failed: %v", err)
	}
	if len(derived) != 1 || derived[0].Args[0] != "RF2" {
		t.Errorf("unexpected detail_visit facts: %v", derived)
	}
}

func TestEngineQueryWithConstant(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()
	record(t, engine, "host_drift", "mount", "anchor .menu01 missing")
	record(t, engine, "host_drift", "adapter", "card fields")

	rows, err := engine.Query(ctx, `host_drift("mount", D).`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != 1 || rows[0]["D"] != "anchor .menu01 missing" {
		t.Errorf("unexpected rows: %v", rows)
	}
}

func TestEngineBufferLimit(t *testing.T) {
	engine := newTestEngine(t, 3)
	ctx := context.Background()
	for _, m := range []string{"RF1", "RF2", "RF3", "RF4", "RF5"} {
		record(t, engine, "compare_added", m, "n", m)
	}

	if got := len(engine.Facts()); got != 3 {
		t.Fatalf("expected buffer trimmed to 3, got %d", got)
	}
	rows, err := engine.Query(ctx, "compared(M).")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("expected derived facts to follow the trimmed buffer, got %d", len(rows))
	}
	if first := engine.FactsByPredicate("compare_added")[0]; first.Args[0] != "RF3" {
		t.Errorf("expected oldest kept fact RF3, got %v", first.Args[0])
	}
}

func TestEngineNumbersRoundTrip(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()
	record(t, engine, "listing_scan", uint64(4), 12, 12)

	rows, err := engine.Query(ctx, "listing_scan(G, N, D).")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["G"] != int64(4) || rows[0]["N"] != int64(12) {
		t.Errorf("unexpected bindings: %v", rows[0])
	}
}

func TestEngineSince(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	_ = engine.AddFacts(ctx, []Fact{
		{Predicate: "remote_failure", Args: []interface{}{"summary", "timeout"}, Timestamp: old},
		{Predicate: "remote_failure", Args: []interface{}{"chat", "502"}, Timestamp: time.Now()},
	})
	if got := len(engine.Since("remote_failure", old.Add(time.Minute))); got != 1 {
		t.Errorf("expected 1 recent failure, got %d", got)
	}
}

func TestEngineDisabled(t *testing.T) {
	engine, err := NewEngine(config.MangleConfig{Enable: false}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := engine.AddFacts(context.Background(), []Fact{{Predicate: "x", Args: []interface{}{"y"}}}); err != nil {
		t.Errorf("AddFacts should succeed when disabled: %v", err)
	}
	if len(engine.Facts()) != 0 {
		t.Error("disabled engine must not buffer facts")
	}
	if !engine.Ready() {
		t.Error("disabled engine should report ready")
	}
	if _, err := engine.Query(context.Background(), "compared(M)."); err != ErrNotReady {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestEngineExtraSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.mg")
	rule := "Decl flaky_summary(ModelNo).\nflaky_summary(M) :- remote_failure(\"summary\", M).\n"
	if err := os.WriteFile(path, []byte(rule), 0o644); err != nil {
		t.Fatal(err)
	}
	engine, err := NewEngine(config.MangleConfig{Enable: true, SchemaPath: path, FactBufferLimit: 10}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	record(t, engine, "remote_failure", "summary", "RF9")
	rows, err := engine.Query(context.Background(), "flaky_summary(M).")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != 1 || rows[0]["M"] != "RF9" {
		t.Errorf("unexpected rows: %v", rows)
	}

	found := false
	for _, p := range engine.Predicates() {
		if p == "flaky_summary" {
			found = true
		}
	}
	if !found {
		t.Error("expected flaky_summary in declared predicates")
	}
}

func TestEngineBadSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.mg")
	if err := os.WriteFile(path, []byte("this is not :- datalog"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewEngine(config.MangleConfig{Enable: true, SchemaPath: path}, nil); err == nil {
		t.Error("expected schema error")
	}
}
