package dataset

import (
	"math"
	"math/rand/v2"

	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/schema"
)

type numericProfile struct {
	mean, std, lo, hi float64
	integral          bool
	weight            float64 // effect of one std on the log-odds
}

var numericProfiles = map[string]numericProfile{
	"year":                {mean: 2018.5, std: 2.3, lo: 2015, hi: 2022, integral: true},
	"age":                 {mean: 42, std: 22, lo: 1, hi: 80, integral: true, weight: 0.9},
	"bmi":                 {mean: 27.3, std: 6.6, lo: 10, hi: 95, weight: 0.5},
	"hbA1c_level":         {mean: 5.5, std: 1.07, lo: 3.5, hi: 9, weight: 1.6},
	"blood_glucose_level": {mean: 138, std: 40, lo: 80, hi: 300, integral: true, weight: 1.4},
}

var vocabularies = map[string][]string{
	"gender":          {"Female", "Male", "Other"},
	"location":        {"Alabama", "Alaska", "Arizona", "California", "Texas"},
	"smoking_history": {"never", "No Info", "current", "former", "ever", "not current"},
}

var categoricalEffects = map[string]map[string]float64{
	"smoking_history": {"current": 0.4, "former": 0.3, "ever": 0.2},
	"gender":          {"Male": 0.2},
}

// Synthetic generates n labelled rows for s. Columns of the diabetes schema
// get realistic ranges; other numeric columns are standard normal and other
// categorical columns draw from {a, b, c}. The label is Bernoulli with a
// logistic link on the standardised features, so a fitted classifier can
// recover signal. Both classes are always present.
func Synthetic(s *schema.Schema, n int, seed uint64) (*Frame, error) {
	if n < 2 {
		return nil, errors.NewValidationError("n", "at least 2 rows are required", n)
	}
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	rows := make([]schema.Row, n)
	labels := make([]int, n)
	genericNumeric := 0
	weights := make([]float64, s.Len())
	profiles := make([]numericProfile, s.Len())
	for j, c := range s.Columns {
		if c.Kind != schema.Numeric {
			continue
		}
		p, ok := numericProfiles[c.Name]
		if !ok {
			p = numericProfile{mean: 0, std: 1, lo: math.Inf(-1), hi: math.Inf(1)}
			// alternate strong and moderate effects with opposite signs
			p.weight = []float64{2.0, -1.2}[genericNumeric%2]
			genericNumeric++
		}
		profiles[j] = p
		weights[j] = p.weight
	}

	for i := 0; i < n; i++ {
		row := make(schema.Row, s.Len())
		z := -0.3
		for j, c := range s.Columns {
			if c.Kind == schema.Categorical {
				vocab, ok := vocabularies[c.Name]
				if !ok {
					vocab = []string{"a", "b", "c"}
				}
				k := r.IntN(len(vocab))
				row[j] = schema.Cat(vocab[k])
				if effects, ok := categoricalEffects[c.Name]; ok {
					z += effects[vocab[k]]
				} else {
					z += 0.4 * float64(k)
				}
				continue
			}
			p := profiles[j]
			std := r.NormFloat64()
			v := p.mean + std*p.std
			v = math.Max(p.lo, math.Min(p.hi, v))
			if p.integral {
				v = math.Round(v)
			}
			row[j] = schema.Num(v)
			z += weights[j] * (v - p.mean) / p.std
		}
		rows[i] = row
		if r.Float64() < 1/(1+math.Exp(-z)) {
			labels[i] = 1
		}
	}

	ensureBothClasses(labels)
	return New(s, rows, labels)
}

func ensureBothClasses(labels []int) {
	pos := 0
	for _, l := range labels {
		pos += l
	}
	switch pos {
	case 0:
		labels[0] = 1
	case len(labels):
		labels[0] = 0
	}
}
