package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
)

// Prediction is a one-hidden-layer network whose hidden units feed back only
// into themselves. The hidden matrix is laid out as
// [input weights | bias | self-feedback block], and only the diagonal of the
// self-feedback block is ever nonzero.
type Prediction struct {
	in         int
	hidden     int
	out        int
	activation ActivationFunc

	hiddenW *mat.Dense // hidden x (in+1+hidden)
	outW    *mat.Dense // out x (hidden+1)
	state   []float64  // last hidden output, seeded from the genome
}

func NewPrediction(in, hidden, out int, activation ActivationFunc, rng *rand.Rand) (*Prediction, error) {
	if err := validateShape(in, hidden, out, activation, rng); err != nil {
		return nil, err
	}
	p := &Prediction{
		in:         in,
		hidden:     hidden,
		out:        out,
		activation: activation,
		hiddenW:    mat.NewDense(hidden, in+1+hidden, nil),
		outW:       randomDense(rng, out, hidden+1),
		state:      make([]float64, hidden),
	}
	p.hiddenW.Slice(0, hidden, 0, in+1).(*mat.Dense).Copy(randomDense(rng, hidden, in+1))
	for i := 0; i < hidden; i++ {
		p.hiddenW.Set(i, in+1+i, 2*rng.Float64()-1)
	}
	for i := range p.state {
		p.state[i] = 2*rng.Float64() - 1
	}
	return p, nil
}

func (p *Prediction) Dims() (in, hidden, out int) {
	return p.in, p.hidden, p.out
}

func (p *Prediction) GenomeLen() int {
	return p.hidden*(p.in+1) + 2*p.hidden + p.out*(p.hidden+1)
}

// State returns a copy of the carried hidden output.
func (p *Prediction) State() []float64 {
	return append([]float64(nil), p.state...)
}

func (p *Prediction) Input(x []float64) ([]float64, error) {
	if len(x) != p.in {
		return nil, fmt.Errorf("%w: prediction got=%d want=%d", ErrInputWidth, len(x), p.in)
	}
	recurrent := make([]float64, 0, p.in+1+p.hidden)
	recurrent = append(recurrent, x...)
	recurrent = append(recurrent, biasTap)
	recurrent = append(recurrent, p.state...)

	p.state = layer(p.hiddenW, recurrent, p.activation)
	return layer(p.outW, withBias(p.state), p.activation), nil
}

// ToGenome encodes the input block row-major, then the self weights, then the
// current hidden output, then the output matrix row-major.
func (p *Prediction) ToGenome() model.Genome {
	g := make(model.Genome, 0, p.GenomeLen())
	for i := 0; i < p.hidden; i++ {
		g = append(g, p.hiddenW.RawRowView(i)[:p.in+1]...)
	}
	for i := 0; i < p.hidden; i++ {
		g = append(g, p.hiddenW.At(i, p.in+1+i))
	}
	g = append(g, p.state...)
	return appendRows(g, p.outW)
}

func (p *Prediction) FromGenome(g model.Genome) error {
	if len(g) != p.GenomeLen() {
		return fmt.Errorf("%w: prediction length=%d want=%d", ErrMalformedGenome, len(g), p.GenomeLen())
	}
	cols := p.in + 1
	inputEnd := p.hidden * cols
	diagEnd := inputEnd + p.hidden
	stateEnd := diagEnd + p.hidden

	hiddenW := mat.NewDense(p.hidden, cols+p.hidden, nil)
	for i := 0; i < p.hidden; i++ {
		row := hiddenW.RawRowView(i)
		copy(row[:cols], g[i*cols:(i+1)*cols])
		row[cols+i] = g[inputEnd+i]
	}
	p.hiddenW = hiddenW
	p.state = append([]float64(nil), g[diagEnd:stateEnd]...)
	p.outW = denseFrom(p.out, p.hidden+1, g[stateEnd:])
	return nil
}

func (p *Prediction) Clone() *Prediction {
	return &Prediction{
		in:         p.in,
		hidden:     p.hidden,
		out:        p.out,
		activation: p.activation,
		hiddenW:    mat.DenseCopyOf(p.hiddenW),
		outW:       mat.DenseCopyOf(p.outW),
		state:      append([]float64(nil), p.state...),
	}
}
