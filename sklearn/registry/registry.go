// Package registry maps model family names to classifier factories.
package registry

import (
	"reflect"
	"sort"
	"sync"

	"github.com/YuminosukeSato/diabeteskit/core/model"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/sklearn/ensemble"
	"github.com/YuminosukeSato/diabeteskit/sklearn/linear_model"
	"github.com/YuminosukeSato/diabeteskit/sklearn/tree"
)

// Family names of the built-in classifiers.
const (
	LogisticRegression     = "LogisticRegression"
	RandomForestClassifier = "RandomForestClassifier"
	LinearSVC              = "LinearSVC"
	DecisionTreeClassifier = "DecisionTreeClassifier"
)

// Factory builds an unfitted classifier with its default hyperparameters.
type Factory func() model.Classifier

// Registry is a concurrency-safe set of named factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default returns a registry with the built-in families.
func Default() *Registry {
	r := New()
	_ = r.Register(LogisticRegression, func() model.Classifier { return linear_model.NewLogisticRegression() })
	_ = r.Register(RandomForestClassifier, func() model.Classifier { return ensemble.NewRandomForestClassifier() })
	_ = r.Register(LinearSVC, func() model.Classifier { return linear_model.NewLinearSVC() })
	_ = r.Register(DecisionTreeClassifier, func() model.Classifier { return tree.NewDecisionTreeClassifier() })
	return r
}

// Register adds a family. Registering the same name twice is an error.
func (r *Registry) Register(family string, f Factory) error {
	if family == "" || f == nil {
		return errors.NewValueError("Registry.Register", "family name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[family]; ok {
		return errors.Newf("registry: family %q already registered", family)
	}
	r.factories[family] = f
	return nil
}

// Has reports whether family is registered.
func (r *Registry) Has(family string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[family]
	return ok
}

// Families returns the registered family names in sorted order.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates a classifier of family configured with params. Unless params
// sets random_state explicitly it is set to seed, so every candidate of a
// search is reproducible.
func (r *Registry) Build(family string, params map[string]interface{}, seed int64) (model.Classifier, error) {
	r.mu.RLock()
	f, ok := r.factories[family]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewValidationError("family", "unknown model family", family)
	}

	clf := f()
	merged := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	if _, set := merged["random_state"]; !set {
		if _, supported := clf.GetParams()["random_state"]; supported {
			merged["random_state"] = seed
		}
	}
	if err := clf.SetParams(merged); err != nil {
		return nil, errors.Wrapf(err, "configure %s", family)
	}
	return clf, nil
}

// FamilyOf returns the family name of a classifier, which is its type name.
func FamilyOf(clf model.Classifier) string {
	t := reflect.TypeOf(clf)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
