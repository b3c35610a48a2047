package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/syncboard/internal/ledger"
	"github.com/roach88/syncboard/internal/room"
	"github.com/roach88/syncboard/internal/template"
)

// Scenario defines a scripted ledger run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Template is a preset name or a template file path. Relative paths are
	// resolved against the scenario file's directory by LoadScenario.
	Template string `yaml:"template"`

	// Participants are seated in order; the first is the host.
	Participants []string `yaml:"participants"`

	// LogLimit overrides the recent-operations log size.
	LogLimit int `yaml:"log_limit,omitempty"`

	// Setup steps establish initial state and must all succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow contains the steps under test.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final room.
	Assertions []Assertion `yaml:"assertions"`
}

// Step invokes one ledger operation.
type Step struct {
	// Op is the operation name as accepted by ledger.Execute.
	Op ledger.Operation `yaml:"op"`

	// Args are the operation arguments. Omit for undoLast.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect specifies the expected outcome. Nil means success.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies an expected step outcome.
type Expect struct {
	// Success may be set to false to accept any failure.
	Success *bool `yaml:"success,omitempty"`

	// Code requires a failure with this error code.
	Code ledger.Code `yaml:"code,omitempty"`

	// Error requires this exact error message.
	Error string `yaml:"error,omitempty"`
}

// wantSuccess reports whether the step is expected to succeed.
func (e *Expect) wantSuccess() bool {
	if e == nil {
		return true
	}
	if e.Code != "" || e.Error != "" {
		return false
	}
	return e.Success == nil || *e.Success
}

// Assertion validates the final room.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Participant names the account for balance; use __pot__ for the pot.
	Participant string `yaml:"participant,omitempty"`

	// Variable is the template variable for balance and total.
	Variable string `yaml:"variable,omitempty"`

	// Value is the expected number for balance and total.
	Value *float64 `yaml:"value,omitempty"`

	// Count is the expected number for history_count and settlement_count.
	Count *int `yaml:"count,omitempty"`

	// Text is the expected log line for log_contains.
	Text string `yaml:"text,omitempty"`
}

// Assertion type constants.
const (
	AssertBalance         = "balance"
	AssertTotal           = "total"
	AssertHistoryCount    = "history_count"
	AssertSettlementCount = "settlement_count"
	AssertLogContains     = "log_contains"
)

var knownOperations = map[ledger.Operation]bool{
	ledger.OpTransfer:       true,
	ledger.OpForceEdit:      true,
	ledger.OpReset:          true,
	ledger.OpSaveSettlement: true,
	ledger.OpUndoLast:       true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if _, ok := template.Preset(scenario.Template); !ok && scenario.Template != "" && !filepath.IsAbs(scenario.Template) {
		scenario.Template = filepath.Join(filepath.Dir(path), scenario.Template)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Template == "" {
		return fmt.Errorf("template is required")
	}
	if len(s.Participants) == 0 {
		return fmt.Errorf("participants list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.LogLimit < 0 {
		return fmt.Errorf("log_limit must be non-negative")
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is not allowed in setup", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
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
	if step.Op == "" {
		return fmt.Errorf("op is required")
	}
	if !knownOperations[step.Op] {
		return fmt.Errorf("unknown op %q", step.Op)
	}
	if step.Op != ledger.OpUndoLast && len(step.Args) == 0 {
		return fmt.Errorf("args are required for %s", step.Op)
	}
	if step.Expect != nil && step.Expect.Success != nil && *step.Expect.Success && step.Expect.Code != "" {
		return fmt.Errorf("expect: code conflicts with success: true")
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertBalance:
		if a.Participant == "" || a.Variable == "" || a.Value == nil {
			return fmt.Errorf("participant, variable and value are required for %s", a.Type)
		}
	case AssertTotal:
		if a.Variable == "" || a.Value == nil {
			return fmt.Errorf("variable and value are required for %s", a.Type)
		}
	case AssertHistoryCount, AssertSettlementCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("a non-negative count is required for %s", a.Type)
		}
	case AssertLogContains:
		if a.Text == "" {
			return fmt.Errorf("text is required for %s", a.Type)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	if a.Participant != "" && a.Participant != room.PotID && room.IsReserved(a.Participant) {
		return fmt.Errorf("reserved participant %q", a.Participant)
	}
	return nil
}
