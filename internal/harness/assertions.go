package harness

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/roach88/sqlidb/internal/engine"
)

// checkStep compares a step's outcome with its expectations and returns a
// failure message, or "" when the step behaved as declared.
func checkStep(step Step, event TraceEvent) string {
	prefix := fmt.Sprintf("step %d (%s %s)", event.Step, event.Op, event.Target)
	if step.ExpectError != "" {
		if event.Error != step.ExpectError {
			got := event.Error
			if got == "" {
				got = "success"
			}
			return fmt.Sprintf("%s: expected %s, got %s", prefix, step.ExpectError, got)
		}
		return ""
	}
	if event.Error != "" {
		return fmt.Sprintf("%s: unexpected %s", prefix, event.Error)
	}
	if step.Expect.IsZero() {
		return ""
	}
	if diff, err := diffExpected(&step.Expect, event.Result); err != nil {
		return fmt.Sprintf("%s: %v", prefix, err)
	} else if diff != "" {
		return fmt.Sprintf("%s: result mismatch (-want +got):\n%s", prefix, diff)
	}
	return ""
}

// diffExpected decodes want and compares it with got after both pass
// through JSON, so YAML integers match decoded float64 numbers.
func diffExpected(want *yaml.Node, got any) (string, error) {
	var w any
	if err := want.Decode(&w); err != nil {
		return "", fmt.Errorf("decode expect: %w", err)
	}
	wn, err := jsonNormalize(w)
	if err != nil {
		return "", fmt.Errorf("expect: %w", err)
	}
	gn, err := jsonNormalize(got)
	if err != nil {
		return "", fmt.Errorf("result: %w", err)
	}
	return cmp.Diff(wn, gn), nil
}

func jsonNormalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EvaluateAssertions checks every assertion in a read-only transaction
// and returns one message per failure.
func EvaluateAssertions(ctx context.Context, db *engine.Database, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(ctx, db, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d] (%s %s): %v", i, a.Type, target(a.Store, a.Index), err))
		}
	}
	return errs
}

func evaluate(ctx context.Context, db *engine.Database, a Assertion) error {
	var req *engine.Request
	err := db.View(ctx, []string{a.Store}, func(tx *engine.Transaction) error {
		s, err := tx.ObjectStore(a.Store)
		if err != nil {
			return err
		}
		var r reader = s
		if a.Index != "" {
			idx, err := s.Index(a.Index)
			if err != nil {
				return err
			}
			r = idx
		}
		query, err := toQuery(a.Query)
		if err != nil {
			return err
		}
		switch a.Type {
		case AssertCount:
			req, err = r.Count(query)
		case AssertRecord:
			req, err = r.Get(query)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("query failed: %s", errorName(err))
	}

	switch a.Type {
	case AssertCount:
		if got := req.Result().(int64); got != a.Count {
			return fmt.Errorf("expected count %d, got %d", a.Count, got)
		}
	case AssertRecord:
		diff, err := diffExpected(&a.Expect, req.Result())
		if err != nil {
			return err
		}
		if diff != "" {
			return fmt.Errorf("record mismatch (-want +got):\n%s", diff)
		}
	}
	return nil
}
