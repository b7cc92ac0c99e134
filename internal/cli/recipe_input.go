package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/recetario/internal/recipe"
)

// recipeFlags describes a recipe on the command line, either field by
// field or as a YAML/JSON file.
type recipeFlags struct {
	File        string
	Name        string
	Description string
	Ingredients []string // "name[:quantity[:unit]]"
	Steps       []string
	Pictures    []string
	Categories  []string
	Duration    int
	Difficulty  string
	Servings    int
}

func (f *recipeFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.File, "file", "f", "", "read the recipe from a YAML or JSON file (- for stdin)")
	flags.StringVar(&f.Name, "name", "", "recipe name")
	flags.StringVar(&f.Description, "description", "", "recipe description")
	flags.StringArrayVarP(&f.Ingredients, "ingredient", "i", nil, `ingredient as "name[:quantity[:unit]]" (repeatable)`)
	flags.StringArrayVarP(&f.Steps, "step", "s", nil, "preparation step (repeatable)")
	flags.StringArrayVar(&f.Pictures, "picture", nil, "picture URL (repeatable)")
	flags.StringArrayVar(&f.Categories, "category", nil, "category (repeatable)")
	flags.IntVar(&f.Duration, "duration", 0, "duration in minutes")
	flags.StringVar(&f.Difficulty, "difficulty", "", "difficulty")
	flags.IntVar(&f.Servings, "servings", 0, "number of servings")
}

// mutation builds the mutation described by the flags.
func (f *recipeFlags) mutation(cmd *cobra.Command) (recipe.Mutation, error) {
	if f.File != "" {
		m, err := readRecipeFile(cmd.InOrStdin(), f.File)
		if err != nil {
			return recipe.Mutation{}, err
		}
		if f.Name != "" {
			m.Name = f.Name
		}
		return m, nil
	}

	var m recipe.Mutation
	m.Name = f.Name
	m.Description = f.Description
	m.Steps = f.Steps
	m.PrincipalPictures = f.Pictures
	m.Category = f.Categories
	m.Duration = f.Duration
	m.Difficulty = f.Difficulty
	m.Servings = f.Servings
	for _, raw := range f.Ingredients {
		m.Ingredients = append(m.Ingredients, parseIngredient(raw))
	}
	return m, nil
}

// parseIngredient splits "name[:quantity[:unit]]".
func parseIngredient(raw string) recipe.Ingredient {
	parts := strings.SplitN(raw, ":", 3)
	ing := recipe.Ingredient{Name: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		ing.Quantity = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		ing.Unit = strings.TrimSpace(parts[2])
	}
	return ing
}

// readRecipeFile decodes a recipe from YAML or JSON. Unknown fields are
// rejected so typos do not silently drop data.
func readRecipeFile(stdin io.Reader, path string) (recipe.Mutation, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return recipe.Mutation{}, WrapExitError(ExitCommandError, "failed to read recipe file", err)
	}

	var m recipe.Mutation
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return recipe.Mutation{}, WrapExitError(ExitCommandError, "failed to parse recipe file", err)
	}
	return m, nil
}

// failInvalid reports a rejected payload.
func failInvalid(out *OutputFormatter, err error) error {
	var verr *recipe.ValidationError
	if errors.As(err, &verr) {
		return out.Fail(ExitFailure, CodeInvalidRecipe, verr.Error(), verr.Problems)
	}
	return WrapExitError(ExitCommandError, "failed to validate recipe", err)
}

func describeKind(m recipe.Mutation) string {
	if m.TargetsExisting() {
		return fmt.Sprintf("update of %s", m.OriginalRecipeID)
	}
	return "new recipe"
}
