package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
)

// Action is a stateless feed-forward network with one hidden layer. Both
// weight matrices carry a trailing bias column.
type Action struct {
	in         int
	hidden     int
	out        int
	activation ActivationFunc

	hiddenW *mat.Dense // hidden x (in+1)
	outW    *mat.Dense // out x (hidden+1)
}

func NewAction(in, hidden, out int, activation ActivationFunc, rng *rand.Rand) (*Action, error) {
	if err := validateShape(in, hidden, out, activation, rng); err != nil {
		return nil, err
	}
	return &Action{
		in:         in,
		hidden:     hidden,
		out:        out,
		activation: activation,
		hiddenW:    randomDense(rng, hidden, in+1),
		outW:       randomDense(rng, out, hidden+1),
	}, nil
}

func (a *Action) Dims() (in, hidden, out int) {
	return a.in, a.hidden, a.out
}

func (a *Action) GenomeLen() int {
	return a.hidden*(a.in+1) + a.out*(a.hidden+1)
}

func (a *Action) Input(x []float64) ([]float64, error) {
	if len(x) != a.in {
		return nil, fmt.Errorf("%w: action got=%d want=%d", ErrInputWidth, len(x), a.in)
	}
	h := layer(a.hiddenW, withBias(x), a.activation)
	return layer(a.outW, withBias(h), a.activation), nil
}

// ToGenome flattens hidden then out, row-major.
func (a *Action) ToGenome() model.Genome {
	g := make(model.Genome, 0, a.GenomeLen())
	g = appendRows(g, a.hiddenW)
	return appendRows(g, a.outW)
}

// FromGenome replaces all weights. A genome of the wrong length is rejected
// and the current weights are kept.
func (a *Action) FromGenome(g model.Genome) error {
	if len(g) != a.GenomeLen() {
		return fmt.Errorf("%w: action length=%d want=%d", ErrMalformedGenome, len(g), a.GenomeLen())
	}
	split := a.hidden * (a.in + 1)
	a.hiddenW = denseFrom(a.hidden, a.in+1, g[:split])
	a.outW = denseFrom(a.out, a.hidden+1, g[split:])
	return nil
}

func (a *Action) Clone() *Action {
	return &Action{
		in:         a.in,
		hidden:     a.hidden,
		out:        a.out,
		activation: a.activation,
		hiddenW:    mat.DenseCopyOf(a.hiddenW),
		outW:       mat.DenseCopyOf(a.outW),
	}
}
