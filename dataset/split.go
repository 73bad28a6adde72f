package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
)

// TrainTestSplit shuffles row indices with a PCG source seeded by seed and
// returns ceil(testSize*n) rows as the test split. The same frame and seed
// always yield the same split.
func TrainTestSplit(f *Frame, testSize float64, seed uint64) (train, test *Frame, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	n := f.Len()
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest < 1 || n-nTest < 1 {
		return nil, nil, errors.NewValueError("TrainTestSplit",
			fmt.Sprintf("test_size=%v with %d rows leaves an empty split", testSize, n))
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	r := rand.New(rand.NewPCG(seed, seed))
	r.Shuffle(n, func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})

	return f.Subset(indices[nTest:]), f.Subset(indices[:nTest]), nil
}
