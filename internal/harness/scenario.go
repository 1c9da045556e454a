package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sqlidb/internal/compiler"
	"github.com/roach88/sqlidb/internal/engine"
)

// Scenario is one scripted run against a fresh database.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description"`

	// Database is the database name. Defaults to "test".
	Database string `yaml:"database,omitempty"`

	// Schema is applied before the first step.
	Schema compiler.Schema `yaml:"schema"`

	// Steps run in order, each in its own transaction.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is a single store or index operation.
type Step struct {
	Op        string `yaml:"op"`
	Store     string `yaml:"store"`
	Index     string `yaml:"index,omitempty"`
	Value     any    `yaml:"value,omitempty"`
	Key       any    `yaml:"key,omitempty"`
	Query     any    `yaml:"query,omitempty"`
	Direction string `yaml:"direction,omitempty"`
	KeyOnly   bool   `yaml:"keyOnly,omitempty"`

	// Expect, when present, must equal the step's result. An explicit
	// null expects a null result.
	Expect yaml.Node `yaml:"expect,omitempty"`

	// ExpectError names the error the step must fail with, such as
	// "ConstraintError".
	ExpectError string `yaml:"expectError,omitempty"`
}

// Assertion checks the database state after all steps.
type Assertion struct {
	Type   string    `yaml:"type"`
	Store  string    `yaml:"store"`
	Index  string    `yaml:"index,omitempty"`
	Query  any       `yaml:"query,omitempty"`
	Count  int64     `yaml:"count,omitempty"`
	Expect yaml.Node `yaml:"expect,omitempty"`
}

// Step op constants.
const (
	OpAdd    = "add"
	OpPut    = "put"
	OpGet    = "get"
	OpGetKey = "getKey"
	OpDelete = "delete"
	OpClear  = "clear"
	OpCount  = "count"
	OpCursor = "cursor"
)

// Assertion type constants.
const (
	AssertCount  = "count"
	AssertRecord = "record"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.Database == "" {
		scenario.Database = "test"
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Schema.Stores) == 0 {
		return fmt.Errorf("schema must declare at least one store")
	}
	if errs := compiler.Validate(&s.Schema); len(errs) > 0 {
		return fmt.Errorf("schema: %w", errs[0])
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	if step.Store == "" {
		return fmt.Errorf("store is required")
	}
	switch step.Op {
	case OpAdd, OpPut:
		if step.Value == nil {
			return fmt.Errorf("value is required for %s", step.Op)
		}
		if step.Index != "" {
			return fmt.Errorf("%s does not take an index", step.Op)
		}
	case OpGet, OpGetKey:
		if step.Query == nil {
			return fmt.Errorf("query is required for %s", step.Op)
		}
	case OpDelete:
		if step.Query == nil {
			return fmt.Errorf("query is required for delete")
		}
		if step.Index != "" {
			return fmt.Errorf("delete does not take an index")
		}
	case OpClear:
		if step.Index != "" {
			return fmt.Errorf("clear does not take an index")
		}
	case OpCount:
	case OpCursor:
		if _, err := engine.ParseDirection(step.Direction); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	if step.ExpectError != "" && !step.Expect.IsZero() {
		return fmt.Errorf("expect and expectError are mutually exclusive")
	}
	return nil
}

func validateAssertion(a Assertion) error {
	if a.Store == "" {
		return fmt.Errorf("store is required")
	}
	switch a.Type {
	case AssertCount:
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative")
		}
	case AssertRecord:
		if a.Query == nil {
			return fmt.Errorf("query is required for record")
		}
		if a.Expect.IsZero() {
			return fmt.Errorf("expect is required for record")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
