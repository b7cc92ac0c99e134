package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/recetario/internal/recipe"
	"github.com/roach88/recetario/internal/syncer"
)

// Scenario defines a sync scenario: an initial world, a sequence of steps
// and assertions on the final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// User is the signed-in user at the start. Empty means signed out.
	User string `yaml:"user,omitempty"`

	// Online is the initial connectivity.
	Online bool `yaml:"online"`

	// MaxAttempts overrides the dead-letter threshold. 0 retries forever.
	MaxAttempts *int `yaml:"max_attempts,omitempty"`

	// Seed lists recipes the service already holds.
	Seed []SeedRecipe `yaml:"seed,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// SeedRecipe is a confirmed recipe present before the first step.
// An empty ID is assigned by the service.
type SeedRecipe struct {
	ID             string `yaml:"id,omitempty"`
	recipe.Payload `yaml:",inline"`
}

// Step performs exactly one action.
type Step struct {
	Enqueue *recipe.Mutation `yaml:"enqueue,omitempty"`
	Edit    *EditStep        `yaml:"edit,omitempty"`
	Discard string           `yaml:"discard,omitempty"`
	Online  *bool            `yaml:"online,omitempty"`
	SignIn  string           `yaml:"sign_in,omitempty"`
	SignOut bool             `yaml:"sign_out,omitempty"`
	Reject  []string         `yaml:"reject,omitempty"`
	Accept  []string         `yaml:"accept,omitempty"`
	Cycle   *CycleStep       `yaml:"cycle,omitempty"`
	Refresh bool             `yaml:"refresh,omitempty"`
	Requeue string           `yaml:"requeue,omitempty"`

	// ExpectError is a substring the step's error must contain. A step
	// with an unexpected error fails the scenario.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// EditStep replaces the pending entry called Name.
type EditStep struct {
	Name   string          `yaml:"name"`
	Recipe recipe.Mutation `yaml:"recipe"`
}

// CycleStep runs reconciliation cycles and checks the last outcome.
// Unset fields are not checked.
type CycleStep struct {
	// Repeat runs the cycle this many times (default 1).
	Repeat int `yaml:"repeat,omitempty"`

	Skipped      string   `yaml:"skipped,omitempty"`
	Delivered    []string `yaml:"delivered,omitempty"`
	Failed       *int     `yaml:"failed,omitempty"`
	DeadLettered []string `yaml:"dead_lettered,omitempty"`
}

// Assertion checks the final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Names is the expected list (queue, dead_letters, server, notified).
	Names []string `yaml:"names,omitempty"`

	// Server and Pending are the expected view lists (view).
	Server  []string `yaml:"server,omitempty"`
	Pending []string `yaml:"pending,omitempty"`

	// Op, Name and Count select and count service calls (calls) or a
	// pending entry's attempts (attempts).
	Op    string `yaml:"op,omitempty"`
	Name  string `yaml:"name,omitempty"`
	Count int    `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertQueue       = "queue"
	AssertDeadLetters = "dead_letters"
	AssertServer      = "server"
	AssertView        = "view"
	AssertNotified    = "notified"
	AssertCalls       = "calls"
	AssertAttempts    = "attempts"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields, or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // typos like "asertions:" fail loudly
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

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
	if s.MaxAttempts != nil && *s.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}

	for i, r := range s.Seed {
		if r.Name == "" {
			return fmt.Errorf("seed[%d]: name is required", i)
		}
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	actions := 0
	for _, set := range []bool{
		st.Enqueue != nil,
		st.Edit != nil,
		st.Discard != "",
		st.Online != nil,
		st.SignIn != "",
		st.SignOut,
		len(st.Reject) > 0,
		len(st.Accept) > 0,
		st.Cycle != nil,
		st.Refresh,
		st.Requeue != "",
	} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, found %d", index, actions)
	}

	if st.Edit != nil && st.Edit.Name == "" {
		return fmt.Errorf("steps[%d].edit: name is required", index)
	}
	if st.Cycle != nil {
		if st.Cycle.Repeat < 0 {
			return fmt.Errorf("steps[%d].cycle: repeat must not be negative", index)
		}
		if st.Cycle.Skipped != "" && !knownSkipReason(st.Cycle.Skipped) {
			return fmt.Errorf("steps[%d].cycle: unknown skip reason %q", index, st.Cycle.Skipped)
		}
	}
	return nil
}

func knownSkipReason(s string) bool {
	switch syncer.SkipReason(s) {
	case syncer.SkipInFlight, syncer.SkipEmptyQueue, syncer.SkipUnauthenticated,
		syncer.SkipNoIdentity, syncer.SkipOffline:
		return true
	}
	return false
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertQueue, AssertDeadLetters, AssertServer, AssertView, AssertNotified:
		return nil
	case AssertCalls:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for calls", index)
		}
		return nil
	case AssertAttempts:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for attempts", index)
		}
		return nil
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
}
