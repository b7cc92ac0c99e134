package recipe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPayload() Payload {
	return Payload{
		Name:        "Tarta de manzana",
		Description: "Clásica",
		Ingredients: []Ingredient{{Name: "manzana", Quantity: "3"}},
		Steps:       []string{"Pelar", "Hornear 40 minutos"},
		Category:    []string{"postres"},
		Duration:    60,
		Difficulty:  "easy",
		Servings:    8,
	}
}

func TestValidate_Accepts(t *testing.T) {
	require.NoError(t, validPayload().Validate())
}

func TestValidate_RejectsMissingIngredients(t *testing.T) {
	p := validPayload()
	p.Ingredients = nil

	err := p.Validate()
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "Tarta de manzana", ve.Name)
	assert.Contains(t, err.Error(), "ingredients")
}

func TestValidate_RejectsBlankName(t *testing.T) {
	p := validPayload()
	p.Name = "   "

	err := p.Validate()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
}

func TestValidate_RejectsNegativeServings(t *testing.T) {
	p := validPayload()
	p.Servings = -2

	err := p.Validate()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, err.Error(), "servings")
}

func TestValidate_RejectsBlankStep(t *testing.T) {
	p := validPayload()
	p.Steps = []string{"Pelar", ""}

	require.Error(t, p.Validate())
}

func TestMutationValidate_UnknownStatus(t *testing.T) {
	m := Mutation{Payload: validPayload(), Status: "archived"}

	err := m.Validate()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, err.Error(), "archived")
}

func TestValidate_Concurrent(t *testing.T) {
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() { done <- validPayload().Validate() }()
	}
	for i := 0; i < 8; i++ {
		assert.NoError(t, <-done)
	}
}
