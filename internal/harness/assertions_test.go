package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertQueue,
		Expected: "[]",
		Actual:   "[Tarta]",
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: queue")
	assert.Contains(t, msg, "Expected: []")
	assert.Contains(t, msg, "Actual: [Tarta]")
}

func TestSameNames(t *testing.T) {
	assert.True(t, sameNames(nil, []string{}))
	assert.True(t, sameNames([]string{"a", "b"}, []string{"a", "b"}))
	assert.False(t, sameNames([]string{"a", "b"}, []string{"b", "a"}))
	assert.False(t, sameNames([]string{"a"}, nil))
}

func TestCompareNames(t *testing.T) {
	assert.NoError(t, compareNames(AssertServer, []string{"Flan"}, []string{"Flan"}))

	err := compareNames(AssertServer, []string{"Flan"}, []string{"Tarta"})
	var ae *AssertionError
	assert.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertServer, ae.Type)
}
