package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/allotment/internal/ir"
)

// Scenario defines an executable allotment scenario: the genesis it starts
// from, the operations it performs and what must hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden traces are stored
	// under this name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Genesis overrides the default genesis (admin "admin", manager
	// "allotment-manager", cap 7777778 tokens, 18 decimals, funding by mint).
	Genesis GenesisSpec `yaml:"genesis,omitempty"`

	// Steps run in order against one fresh journal.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// GenesisSpec is the scenario form of store.Genesis. Cap is in token units.
type GenesisSpec struct {
	Admin    string `yaml:"admin,omitempty"`
	Manager  string `yaml:"manager,omitempty"`
	Cap      string `yaml:"cap,omitempty"`
	Decimals *int   `yaml:"decimals,omitempty"`
	Funding  string `yaml:"funding,omitempty"`
	Treasury string `yaml:"treasury,omitempty"`
}

// Step is one operation.
type Step struct {
	// As is the calling account.
	As string `yaml:"as"`

	// At is the time the operation observes, as unix seconds or RFC 3339.
	// Defaults to the previous step's time; required on the first step.
	At string `yaml:"at,omitempty"`

	// Do is the action name (allotTokens, release, ...).
	Do ir.Action `yaml:"do"`

	// Args are the action arguments. Amounts are token units; string values
	// starting with "$" refer to schedule ids saved by earlier steps.
	Args map[string]any `yaml:"args,omitempty"`

	// Save names the schedule id in the step's result for later steps.
	Save string `yaml:"save,omitempty"`

	// Expect specifies the expected completion. Nil expects Success.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies expected completion behavior.
type Expect struct {
	// Case is the expected output case: "Success" or a fault code.
	Case string `yaml:"case"`

	// Events lists the expected event kinds in emission order. Nil skips
	// the check; an empty list requires no events.
	Events []ir.EventKind `yaml:"events,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type selects the assertion, see the Assert constants.
	Type string `yaml:"type"`

	// Account is the ledger account for balance. "$name" means the
	// custody account of a saved schedule.
	Account string `yaml:"account,omitempty"`

	// Beneficiary filters allotment_count and selects allotments.
	Beneficiary string `yaml:"beneficiary,omitempty"`

	// Allotment is the saved schedule ("$name") for released and
	// release_time.
	Allotment string `yaml:"allotment,omitempty"`

	// Kind is the event kind for event_count.
	Kind ir.EventKind `yaml:"kind,omitempty"`

	// Count is the expected number for allotment_count and event_count.
	Count int `yaml:"count,omitempty"`

	// Expect is the expected value: a token amount for balance and
	// total_supply, a list of "$name" for allotments, a bool for released
	// and a time for release_time.
	Expect any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertBalance        = "balance"
	AssertAllotmentCount = "allotment_count"
	AssertAllotments     = "allotments"
	AssertReleased       = "released"
	AssertReleaseTime    = "release_time"
	AssertEventCount     = "event_count"
	AssertTotalSupply    = "total_supply"
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

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
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
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	saved := make(map[string]bool)
	for i, step := range s.Steps {
		if strings.TrimSpace(step.As) == "" {
			return fmt.Errorf("steps[%d]: as is required", i)
		}
		if step.Do == "" {
			return fmt.Errorf("steps[%d]: do is required", i)
		}
		if i == 0 && step.At == "" {
			return fmt.Errorf("steps[0]: at is required on the first step")
		}
		if step.At != "" {
			if _, err := ir.ParseTime(step.At); err != nil {
				return fmt.Errorf("steps[%d]: at: %w", i, err)
			}
		}
		if step.Expect != nil && step.Expect.Case == "" {
			return fmt.Errorf("steps[%d].expect: case is required", i)
		}
		for key, v := range step.Args {
			if ref, ok := reference(v); ok && !saved[ref] {
				return fmt.Errorf("steps[%d].args.%s: $%s is not saved by an earlier step", i, key, ref)
			}
		}
		if step.Save != "" {
			if saved[step.Save] {
				return fmt.Errorf("steps[%d]: save name %q already used", i, step.Save)
			}
			saved[step.Save] = true
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, saved); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, saved map[string]bool) error {
	checkRef := func(field, v string) error {
		if ref, ok := reference(v); ok && !saved[ref] {
			return fmt.Errorf("assertions[%d].%s: $%s is not saved by any step", index, field, ref)
		}
		return nil
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertBalance:
		if a.Account == "" {
			return fmt.Errorf("assertions[%d]: account is required for balance", index)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for balance", index)
		}
		return checkRef("account", a.Account)
	case AssertTotalSupply:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for total_supply", index)
		}
	case AssertAllotmentCount, AssertEventCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
		if a.Type == AssertEventCount && a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
	case AssertAllotments:
		if a.Beneficiary == "" {
			return fmt.Errorf("assertions[%d]: beneficiary is required for allotments", index)
		}
		list, ok := a.Expect.([]any)
		if !ok {
			return fmt.Errorf("assertions[%d]: expect must be a list for allotments", index)
		}
		for _, v := range list {
			s, _ := v.(string)
			if _, isRef := reference(s); !isRef {
				return fmt.Errorf("assertions[%d]: allotments expects $names, got %v", index, v)
			}
			if err := checkRef("expect", s); err != nil {
				return err
			}
		}
	case AssertReleased, AssertReleaseTime:
		if _, ok := reference(a.Allotment); !ok {
			return fmt.Errorf("assertions[%d]: allotment must be a $name for %s", index, a.Type)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
		return checkRef("allotment", a.Allotment)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// reference returns the saved name v refers to, if v is a "$name" string.
func reference(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || len(s) < 2 || s[0] != '$' {
		return "", false
	}
	return s[1:], true
}
