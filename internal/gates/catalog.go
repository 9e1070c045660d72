package gates

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

type catalogFile struct {
	Recipes []Recipe `yaml:"recipes"`
}

// LoadRecipes parses a recipe catalog and adds every recipe to r.
func (r *Registry) LoadRecipes(data []byte) error {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing recipe catalog: %w", err)
	}
	for _, rec := range f.Recipes {
		if err := r.AddRecipe(rec); err != nil {
			return err
		}
	}
	return nil
}

// Default builds the registry with the built-in checks and the embedded recipes.
func Default() (*Registry, error) {
	r := NewRegistry()
	for _, c := range Builtins() {
		r.Register(c)
	}
	if err := r.LoadRecipes(catalogYAML); err != nil {
		return nil, err
	}
	return r, nil
}
