// Package artifact persists fitted pipelines as versioned gob files and keeps
// a sqlite manifest that is the single source of truth for "the latest one".
package artifact

import (
	"fmt"
	"regexp"
	"time"

	"github.com/YuminosukeSato/diabeteskit/core/model"
	"github.com/YuminosukeSato/diabeteskit/schema"
	"github.com/YuminosukeSato/diabeteskit/sklearn/pipeline"
)

// idLayout formats the creation time into an artifact ID. IDs of this fixed
// width sort lexically in time order.
const idLayout = "20060102150405.000000"

// filenamePattern matches model_<YYYYMMDDhhmmss.ffffff>_<score>.gob.
var filenamePattern = regexp.MustCompile(`^model_(\d{14}\.\d{6})_(-?\d+\.\d{4})\.gob$`)

// Bundle is the unit that is persisted and served: a fitted pipeline plus
// the metadata of the search that produced it. A loaded Bundle is never
// mutated, so it can be shared by concurrent readers.
type Bundle struct {
	ID        string
	CreatedAt time.Time
	RunID     string

	Family  string
	Params  map[string]interface{}
	Scoring string
	CVScore float64
	CVStd   float64

	HoldoutAccuracy float64
	HoldoutAUC      float64

	Pipeline *pipeline.Pipeline
}

// Schema returns the feature schema the bundled pipeline was fitted on.
func (b *Bundle) Schema() *schema.Schema {
	return b.Pipeline.Schema()
}

// Filename returns the on-disk name of the bundle.
func (b *Bundle) Filename() string {
	return Filename(b.ID, b.CVScore)
}

// Filename builds model_<id>_<score>.gob.
func Filename(id string, score float64) string {
	return fmt.Sprintf("model_%s_%.4f.gob", id, score)
}

// ParseFilename extracts the ID from a conforming artifact file name.
func ParseFilename(name string) (id string, ok bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// NewID formats t as an artifact ID.
func NewID(t time.Time) string {
	return t.UTC().Format(idLayout)
}

// ParseID returns the creation time encoded in id.
func ParseID(id string) (time.Time, error) {
	return time.ParseInLocation(idLayout, id, time.UTC)
}

// NormalizeParams returns a copy of params that gob can encode: nil values,
// which mean "unlimited" for parameters like max_depth, become "none".
func NormalizeParams(params map[string]interface{}) map[string]interface{} {
	out := model.CloneParams(params)
	for k, v := range out {
		if v == nil {
			out[k] = "none"
		}
	}
	return out
}
