package model_selection

import (
	"sort"

	"github.com/YuminosukeSato/diabeteskit/core/model"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/sklearn/registry"
)

// ParamGrid maps a hyperparameter name to the values to try.
type ParamGrid map[string][]interface{}

// Expand returns the cartesian product of the grid. Keys are taken in sorted
// order and the last key varies fastest, so the order is deterministic. An
// empty grid expands to one empty parameter set.
func (g ParamGrid) Expand() []map[string]interface{} {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	combos := []map[string]interface{}{{}}
	for _, k := range keys {
		values := g[k]
		next := make([]map[string]interface{}, 0, len(combos)*len(values))
		for _, base := range combos {
			for _, v := range values {
				c := model.CloneParams(base)
				c[k] = v
				next = append(next, c)
			}
		}
		combos = next
	}
	return combos
}

// Size returns the number of parameter sets Expand produces.
func (g ParamGrid) Size() int {
	n := 1
	for _, values := range g {
		n *= len(values)
	}
	return n
}

// FamilyGrid is the grid searched for one model family.
type FamilyGrid struct {
	Family string
	Grid   ParamGrid
}

// Candidate is one (family, parameters) pair of a search.
type Candidate struct {
	Index  int
	Family string
	Params map[string]interface{}
}

// String formats the candidate as family(params).
func (c Candidate) String() string {
	return c.Family + "(" + model.FormatParams(c.Params) + ")"
}

// Candidates enumerates every candidate, in family order then grid order.
// A grid key with no values is an error because it would silently drop the
// whole family.
func Candidates(grids []FamilyGrid) ([]Candidate, error) {
	var out []Candidate
	for _, fg := range grids {
		for k, values := range fg.Grid {
			if len(values) == 0 {
				return nil, errors.NewValidationError(fg.Family+"."+k, "grid has no values", values)
			}
		}
		for _, params := range fg.Grid.Expand() {
			out = append(out, Candidate{Index: len(out), Family: fg.Family, Params: params})
		}
	}
	if len(out) == 0 {
		return nil, errors.NewValueError("Candidates", "no candidates to evaluate")
	}
	return out, nil
}

// DefaultGrids returns the grids searched when none are configured.
func DefaultGrids() []FamilyGrid {
	return []FamilyGrid{
		{Family: registry.LogisticRegression, Grid: ParamGrid{
			"C":        {0.01, 0.1, 1.0},
			"max_iter": {1000},
		}},
		{Family: registry.RandomForestClassifier, Grid: ParamGrid{
			"n_estimators": {50, 100},
			"max_depth":    {nil, 10, 20},
		}},
		{Family: registry.LinearSVC, Grid: ParamGrid{
			"C": {0.01, 0.1},
		}},
	}
}
