package tuning

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
)

// DefaultSpread bounds the uniform step added to a mutated gene.
const DefaultSpread = 0.4

var ErrInvalidRate = errors.New("mutation rate must be within [0, 1]")

// Perturber applies per-gene uniform perturbation. Each gene is independently
// shifted by a value drawn from [-Spread, Spread) with probability Rate.
type Perturber struct {
	Rand   *rand.Rand
	Rate   float64
	Spread float64
	mu     sync.Mutex
}

func (p *Perturber) Name() string {
	return "uniform_perturb"
}

func (p *Perturber) Validate() error {
	if p == nil || p.Rand == nil {
		return errors.New("random source is required")
	}
	if p.Rate < 0 || p.Rate > 1 {
		return fmt.Errorf("%w: %f", ErrInvalidRate, p.Rate)
	}
	if p.Spread < 0 {
		return errors.New("spread must be >= 0")
	}
	return nil
}

// Apply returns a perturbed copy of genome. The input is never modified.
func (p *Perturber) Apply(genome model.Genome) (model.Genome, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := genome.Clone()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range out {
		if p.Rand.Float64() >= p.Rate {
			continue
		}
		out[i] += p.Rand.Float64()*2*p.Spread - p.Spread
	}
	return out, nil
}
