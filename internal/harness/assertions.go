package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against the harness state
// and returns one message per failure.
func EvaluateAssertions(h *Harness, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(h, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(h *Harness, a Assertion) error {
	ctx := context.Background()

	switch a.Type {
	case AssertQueue:
		return compareNames(a.Type, mutationNames(h.queue.List(ctx)), a.Names)

	case AssertDeadLetters:
		return compareNames(a.Type, mutationNames(h.queue.DeadLetters(ctx)), a.Names)

	case AssertServer:
		var names []string
		for _, r := range h.service.Recipes() {
			names = append(names, r.Name)
		}
		return compareNames(a.Type, names, a.Names)

	case AssertView:
		state := h.view.Snapshot()
		var server []string
		for _, r := range state.ServerRecipes {
			server = append(server, r.Name)
		}
		if err := compareNames("view.server", server, a.Server); err != nil {
			return err
		}
		return compareNames("view.pending", mutationNames(state.PendingRecipes), a.Pending)

	case AssertNotified:
		return compareNames(a.Type, h.notified, a.Names)

	case AssertCalls:
		got := 0
		for _, c := range h.service.Calls() {
			if c.Op == a.Op && (a.Name == "" || c.Name == a.Name) {
				got++
			}
		}
		if got != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d %s calls for %q", a.Count, a.Op, a.Name),
				Actual:   fmt.Sprintf("%d calls", got),
			}
		}
		return nil

	case AssertAttempts:
		for _, m := range h.queue.List(ctx) {
			if m.Name != a.Name {
				continue
			}
			if m.Attempts != a.Count {
				return &AssertionError{
					Type:     a.Type,
					Expected: fmt.Sprintf("%q has %d attempts", a.Name, a.Count),
					Actual:   fmt.Sprintf("%d attempts", m.Attempts),
				}
			}
			return nil
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%q pending", a.Name),
			Actual:   "not in queue",
		}
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func compareNames(kind string, got, want []string) error {
	if sameNames(got, want) {
		return nil
	}
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", got),
	}
}

// sameNames compares in order; nil and empty are equal.
func sameNames(a, b []string) bool {
	return slices.Equal(a, b)
}
