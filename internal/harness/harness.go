package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/sqlidb/internal/compiler"
	"github.com/roach88/sqlidb/internal/domerr"
	"github.com/roach88/sqlidb/internal/engine"
	"github.com/roach88/sqlidb/internal/keyrange"
	"github.com/roach88/sqlidb/internal/testutil"
)

// Harness executes scenarios against a factory.
type Harness struct {
	factory *engine.Factory
	logger  *slog.Logger
}

// New creates a harness over f. A nil logger discards output.
func New(f *engine.Factory, logger *slog.Logger) *Harness {
	if logger == nil {
		logger = testutil.DiscardLogger()
	}
	return &Harness{factory: f, logger: logger}
}

// Run executes a scenario in a fresh in-memory factory with a constant
// transaction id generator, so repeated runs log and trace identically.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	logger := testutil.DiscardLogger()
	f, err := engine.NewFactory(ctx,
		engine.WithInMemory(),
		engine.WithLogger(logger),
		engine.WithIDGenerator(testutil.NewConstantGenerator("")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create factory: %w", err)
	}
	defer f.Close()

	return New(f, logger).Execute(ctx, scenario)
}

// Execute applies the scenario's schema, runs its steps and evaluates its
// assertions. Step failures that the scenario does not expect are
// reported in the result; the returned error is reserved for failures of
// the harness itself.
func (h *Harness) Execute(ctx context.Context, scenario *Scenario) (*Result, error) {
	if _, err := compiler.Apply(ctx, h.factory, scenario.Database, &scenario.Schema, false); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	db, err := h.factory.Open(ctx, scenario.Database, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	result := NewResult()
	for i, step := range scenario.Steps {
		event := h.runStep(ctx, db, i+1, step)
		result.AddTrace(event)
		if msg := checkStep(step, event); msg != "" {
			result.AddError(msg)
		}
		h.logger.Info("step completed",
			"step", event.Step,
			"op", step.Op,
			"target", event.Target,
			"error", event.Error,
		)
	}

	for _, msg := range EvaluateAssertions(ctx, db, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// reader is the read surface shared by stores and indexes.
type reader interface {
	Get(query any) (*engine.Request, error)
	GetKey(query any) (*engine.Request, error)
	Count(query any) (*engine.Request, error)
	OpenCursor(query any, dir engine.Direction) (*engine.Request, error)
	OpenKeyCursor(query any, dir engine.Direction) (*engine.Request, error)
}

func target(store, index string) string {
	if index == "" {
		return store
	}
	return store + "." + index
}

func (h *Harness) runStep(ctx context.Context, db *engine.Database, n int, step Step) TraceEvent {
	event := TraceEvent{Step: n, Op: step.Op, Target: target(step.Store, step.Index)}

	var req *engine.Request
	entries := []any{}
	err := db.Update(ctx, []string{step.Store}, func(tx *engine.Transaction) error {
		s, err := tx.ObjectStore(step.Store)
		if err != nil {
			return err
		}
		req, err = issue(s, step, &entries)
		return err
	})
	switch {
	case err != nil:
		event.Error = errorName(err)
	case step.Op == OpCursor:
		event.Result = entries
	default:
		event.Result = req.Result()
	}
	return event
}

// issue queues the step's request on s.
func issue(s *engine.ObjectStore, step Step, entries *[]any) (*engine.Request, error) {
	query, err := toQuery(step.Query)
	if err != nil {
		return nil, err
	}

	switch step.Op {
	case OpAdd:
		return s.Add(step.Value, step.Key)
	case OpPut:
		return s.Put(step.Value, step.Key)
	case OpDelete:
		return s.Delete(query)
	case OpClear:
		return s.Clear()
	}

	var r reader = s
	if step.Index != "" {
		idx, err := s.Index(step.Index)
		if err != nil {
			return nil, err
		}
		r = idx
	}

	switch step.Op {
	case OpGet:
		return r.Get(query)
	case OpGetKey:
		return r.GetKey(query)
	case OpCount:
		return r.Count(query)
	case OpCursor:
		dir, err := engine.ParseDirection(step.Direction)
		if err != nil {
			return nil, err
		}
		open := r.OpenCursor
		if step.KeyOnly {
			open = r.OpenKeyCursor
		}
		req, err := open(query, dir)
		if err != nil {
			return nil, err
		}
		req.OnSuccess = func(res *engine.Request) error {
			c, _ := res.Result().(*engine.Cursor)
			if c == nil {
				return nil
			}
			entry := map[string]any{"key": c.Key(), "primaryKey": c.PrimaryKey()}
			if !step.KeyOnly {
				entry["value"] = c.Value()
			}
			*entries = append(*entries, entry)
			return c.Continue(nil)
		}
		return req, nil
	default:
		return nil, fmt.Errorf("unknown op %q", step.Op)
	}
}

var rangeFields = map[string]bool{"lower": true, "upper": true, "lowerOpen": true, "upperOpen": true}

// toQuery turns a range mapping into a key range and passes anything else
// through as a raw key.
func toQuery(q any) (any, error) {
	m, ok := q.(map[string]any)
	if !ok {
		return q, nil
	}
	for field := range m {
		if !rangeFields[field] {
			return nil, fmt.Errorf("unknown range field %q", field)
		}
	}
	lowerOpen, _ := m["lowerOpen"].(bool)
	upperOpen, _ := m["upperOpen"].(bool)
	lower, upper := m["lower"], m["upper"]
	switch {
	case lower != nil && upper != nil:
		return keyrange.Bound(lower, upper, lowerOpen, upperOpen)
	case lower != nil:
		return keyrange.LowerBound(lower, lowerOpen)
	case upper != nil:
		return keyrange.UpperBound(upper, upperOpen)
	default:
		return nil, fmt.Errorf("range needs lower or upper")
	}
}

// errorName reduces err to the name of the failure a step reports. An
// abort caused by a failed request reports the request's failure.
func errorName(err error) string {
	if name := domerr.Kind(engine.Cause(err)); name != "" {
		return string(name)
	}
	return err.Error()
}
