package nn

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
)

// biasTap is appended to every layer input.
const biasTap = -1.0

var (
	ErrDimensions      = errors.New("invalid network dimensions")
	ErrMalformedGenome = errors.New("malformed genome")
	ErrInputWidth      = errors.New("input width mismatch")
)

func validateShape(in, hidden, out int, activation ActivationFunc, rng *rand.Rand) error {
	if in <= 0 || hidden <= 0 || out <= 0 {
		return fmt.Errorf("%w: in=%d hidden=%d out=%d", ErrDimensions, in, hidden, out)
	}
	if activation == nil {
		return errors.New("activation function is required")
	}
	if rng == nil {
		return errors.New("random source is required")
	}
	return nil
}

// randomDense draws every element uniformly from [-1, 1).
func randomDense(rng *rand.Rand, rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = 2*rng.Float64() - 1
	}
	return mat.NewDense(rows, cols, data)
}

func withBias(x []float64) []float64 {
	out := make([]float64, 0, len(x)+1)
	out = append(out, x...)
	return append(out, biasTap)
}

// layer computes fn(w·x) elementwise.
func layer(w *mat.Dense, x []float64, fn ActivationFunc) []float64 {
	var sums mat.VecDense
	sums.MulVec(w, mat.NewVecDense(len(x), x))
	out := make([]float64, sums.Len())
	for i := range out {
		out[i] = fn(sums.AtVec(i))
	}
	return out
}

func appendRows(g model.Genome, m *mat.Dense) model.Genome {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		g = append(g, m.RawRowView(i)...)
	}
	return g
}

func denseFrom(rows, cols int, values []float64) *mat.Dense {
	return mat.NewDense(rows, cols, append([]float64(nil), values...))
}
