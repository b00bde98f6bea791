// Package mangle keeps a bounded log of overlay activity facts and evaluates
// the overlay schema over them with Google Mangle.
package mangle

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"

	"github.com/Lechros/chatda/internal/config"
)

//go:embed schema.mg
var builtinSchema string

// ErrNotReady is returned by queries on a disabled engine.
var ErrNotReady = errors.New("fact engine not ready")

// Fact is one overlay observation.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult binds query variables to values.
type QueryResult map[string]interface{}

type Engine struct {
	cfg    config.MangleConfig
	logger *zap.Logger

	mu          sync.RWMutex
	programInfo *analysis.ProgramInfo
	store       factstore.FactStore
	facts       []Fact
	index       map[string][]int
}

// NewEngine loads the built-in schema plus cfg.SchemaPath when set.
func NewEngine(cfg config.MangleConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:    cfg,
		logger: logger,
		store:  factstore.NewSimpleInMemoryStore(),
		index:  make(map[string][]int),
	}
	if !cfg.Enable {
		return e, nil
	}

	source := builtinSchema
	if cfg.SchemaPath != "" {
		extra, err := os.ReadFile(cfg.SchemaPath)
		if err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
		source += "\n" + string(extra)
	}
	if err := e.loadSchema(source); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) loadSchema(source string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(source)))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze schema: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programInfo = info
	return nil
}

func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.cfg.Enable || e.programInfo != nil
}

// AddFacts appends to the bounded buffer and re-derives the schema's rules.
// A disabled engine accepts and drops everything.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.cfg.Enable || len(facts) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range facts {
		if facts[i].Timestamp.IsZero() {
			facts[i].Timestamp = time.Now()
		}
	}
	e.facts = append(e.facts, facts...)
	if limit := e.cfg.FactBufferLimit; limit > 0 && len(e.facts) > limit {
		e.facts = append([]Fact(nil), e.facts[len(e.facts)-limit:]...)
		e.rebuildLocked()
	} else {
		base := len(e.facts) - len(facts)
		for i, f := range facts {
			e.index[f.Predicate] = append(e.index[f.Predicate], base+i)
			e.store.Add(factToAtom(f))
		}
	}

	if e.programInfo == nil {
		return nil
	}
	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		e.logger.Warn("evaluate overlay schema", zap.Error(err))
		return fmt.Errorf("eval program: %w", err)
	}
	return nil
}

// rebuildLocked rebuilds the store and the index from the trimmed buffer, so
// derived facts never outlive the base facts they came from.
func (e *Engine) rebuildLocked() {
	e.store = factstore.NewSimpleInMemoryStore()
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
		e.store.Add(factToAtom(f))
	}
}

// Query evaluates a single atom such as `compared(M).` and returns one binding
// per matching fact, base or derived.
func (e *Engine) Query(ctx context.Context, query string) ([]QueryResult, error) {
	if !e.cfg.Enable {
		return nil, ErrNotReady
	}
	unit, err := parse.Unit(bytes.NewReader([]byte(query)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(unit.Clauses) == 0 {
		return nil, fmt.Errorf("no query found")
	}
	atom := unit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = e.store.GetFacts(atom, func(found ast.Atom) error {
		row := make(QueryResult)
		for i, arg := range atom.Args {
			if i >= len(found.Args) {
				break
			}
			if v, ok := arg.(ast.Variable); ok && v.Symbol != "_" {
				row[v.Symbol] = fromTerm(found.Args[i])
			}
		}
		results = append(results, row)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return results, nil
}

// Derived lists every fact currently held for predicate, with the arity taken
// from the schema declaration.
func (e *Engine) Derived(predicate string) ([]Fact, error) {
	if !e.cfg.Enable {
		return nil, ErrNotReady
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	arity := -1
	for sym := range e.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}
	if arity < 0 {
		return nil, fmt.Errorf("unknown predicate %q", predicate)
	}
	args := make([]ast.BaseTerm, arity)
	for i := range args {
		args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
	}
	out := make([]Fact, 0)
	err := e.store.GetFacts(ast.Atom{Predicate: ast.PredicateSym{Symbol: predicate, Arity: arity}, Args: args}, func(a ast.Atom) error {
		out = append(out, atomToFact(a))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return out, nil
}

// Predicates lists declared predicate names, sorted.
func (e *Engine) Predicates() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.programInfo == nil {
		return nil
	}
	names := make([]string, 0, len(e.programInfo.Decls))
	for sym := range e.programInfo.Decls {
		names = append(names, sym.Symbol)
	}
	sort.Strings(names)
	return names
}

// FactsByPredicate returns buffered base facts for predicate.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	indices := e.index[predicate]
	out := make([]Fact, 0, len(indices))
	for _, i := range indices {
		out = append(out, e.facts[i])
	}
	return out
}

// Facts returns a copy of the buffer.
func (e *Engine) Facts() []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Fact(nil), e.facts...)
}

// Since returns buffered facts for predicate newer than after.
func (e *Engine) Since(predicate string, after time.Time) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Fact
	for _, i := range e.index[predicate] {
		if e.facts[i].Timestamp.After(after) {
			out = append(out, e.facts[i])
		}
	}
	return out
}

func factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, a := range f.Args {
		args[i] = toConstant(a)
	}
	return ast.Atom{Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)}, Args: args}
}

func atomToFact(a ast.Atom) Fact {
	args := make([]interface{}, len(a.Args))
	for i, t := range a.Args {
		args[i] = fromTerm(t)
	}
	return Fact{Predicate: a.Predicate.Symbol, Args: args, Timestamp: time.Now()}
}

// Booleans are stored as the strings "true" and "false" so schema rules can
// match them as plain constants.
func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case uint64:
		return ast.Number(int64(val))
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func fromTerm(t ast.BaseTerm) interface{} {
	switch term := t.(type) {
	case ast.Constant:
		switch term.Type {
		case ast.StringType:
			val, _ := term.StringValue()
			return val
		case ast.NumberType:
			return term.NumValue
		case ast.Float64Type:
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	default:
		return fmt.Sprintf("%v", t)
	}
}
