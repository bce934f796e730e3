package agent

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/nn"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/tuning"
)

var ErrPrecondition = errors.New("precondition violated")

type Config struct {
	Dimensions           model.Dimensions `yaml:"dimensions"`
	ActionActivation     string           `yaml:"action_activation"`
	PredictionActivation string           `yaml:"prediction_activation"`
}

// DefaultConfig matches the Thymio setup: nine normalized sensors, two motors.
func DefaultConfig() Config {
	return Config{
		Dimensions: model.Dimensions{
			Sensors:          9,
			Actions:          2,
			HiddenAction:     7,
			HiddenPrediction: 10,
		},
		ActionActivation:     "tanh",
		PredictionActivation: "sigmoid",
	}
}

// Individual pairs an action network with a prediction network and keeps the
// per-window history needed to score prediction accuracy.
type Individual struct {
	cfg        Config
	action     *nn.Action
	prediction *nn.Prediction

	givenAction []float64
	acted       bool
	actual      [][]float64
	predictions [][]float64
}

func New(cfg Config, rng *rand.Rand) (*Individual, error) {
	dims := cfg.Dimensions
	if dims.Sensors <= 0 || dims.Actions <= 0 {
		return nil, fmt.Errorf("%w: sensors=%d actions=%d", nn.ErrDimensions, dims.Sensors, dims.Actions)
	}
	actionFn, err := nn.GetActivation(cfg.ActionActivation)
	if err != nil {
		return nil, fmt.Errorf("action activation: %w", err)
	}
	predictionFn, err := nn.GetActivation(cfg.PredictionActivation)
	if err != nil {
		return nil, fmt.Errorf("prediction activation: %w", err)
	}
	action, err := nn.NewAction(dims.Inputs(), dims.HiddenAction, dims.Actions, actionFn, rng)
	if err != nil {
		return nil, err
	}
	prediction, err := nn.NewPrediction(dims.Inputs(), dims.HiddenPrediction, dims.Sensors, predictionFn, rng)
	if err != nil {
		return nil, err
	}
	ind := &Individual{cfg: cfg, action: action, prediction: prediction}
	ind.Reset()
	return ind, nil
}

func (ind *Individual) Config() Config {
	return ind.cfg
}

func (ind *Individual) observation(sensor []float64) ([]float64, error) {
	if len(sensor) != ind.cfg.Dimensions.Sensors {
		return nil, fmt.Errorf("%w: sensor width=%d want=%d", nn.ErrInputWidth, len(sensor), ind.cfg.Dimensions.Sensors)
	}
	x := make([]float64, 0, len(sensor)+len(ind.givenAction))
	x = append(x, sensor...)
	return append(x, ind.givenAction...), nil
}

// Action feeds the sensor and the previous action through the action network
// and remembers the result as the new given action.
func (ind *Individual) Action(sensor []float64) ([]float64, error) {
	x, err := ind.observation(sensor)
	if err != nil {
		return nil, err
	}
	out, err := ind.action.Input(x)
	if err != nil {
		return nil, err
	}
	ind.givenAction = out
	ind.acted = true
	return append([]float64(nil), out...), nil
}

// Predict must follow Action in the same tick.
func (ind *Individual) Predict(sensor []float64) ([]float64, error) {
	if !ind.acted {
		return nil, fmt.Errorf("%w: predict called without a preceding action", ErrPrecondition)
	}
	x, err := ind.observation(sensor)
	if err != nil {
		return nil, err
	}
	out, err := ind.prediction.Input(x)
	if err != nil {
		return nil, err
	}
	ind.acted = false
	ind.predictions = append(ind.predictions, out)
	return append([]float64(nil), out...), nil
}

func (ind *Individual) StoreSensor(sensor []float64) error {
	if len(sensor) != ind.cfg.Dimensions.Sensors {
		return fmt.Errorf("%w: sensor width=%d want=%d", nn.ErrInputWidth, len(sensor), ind.cfg.Dimensions.Sensors)
	}
	ind.actual = append(ind.actual, append([]float64(nil), sensor...))
	return nil
}

// Steps reports how many predictions and observed sensors are stored.
func (ind *Individual) Steps() (predictions, actual int) {
	return len(ind.predictions), len(ind.actual)
}

// Evaluate scores the window: the mean over steps and sensor dimensions of
// 1-|predicted-actual|.
func (ind *Individual) Evaluate() (float64, error) {
	n := len(ind.predictions)
	if n != len(ind.actual) {
		return 0, fmt.Errorf("%w: %d predictions vs %d observations", ErrPrecondition, n, len(ind.actual))
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: empty evaluation window", ErrPrecondition)
	}
	d := ind.cfg.Dimensions.Sensors
	sum := 0.0
	for i := 0; i < n; i++ {
		p, a := ind.predictions[i], ind.actual[i]
		for j := 0; j < d; j++ {
			sum += 1 - math.Abs(p[j]-a[j])
		}
	}
	return sum / float64(n*d), nil
}

// Mutate returns a new individual built from perturbed copies of both genomes.
func (ind *Individual) Mutate(rate float64, rng *rand.Rand) (*Individual, error) {
	perturber := &tuning.Perturber{Rand: rng, Rate: rate, Spread: tuning.DefaultSpread}
	action, err := perturber.Apply(ind.action.ToGenome())
	if err != nil {
		return nil, err
	}
	prediction, err := perturber.Apply(ind.prediction.ToGenome())
	if err != nil {
		return nil, err
	}
	child := ind.Clone()
	if err := child.Install(action, prediction); err != nil {
		return nil, err
	}
	return child, nil
}

func (ind *Individual) Reset() {
	ind.givenAction = make([]float64, ind.cfg.Dimensions.Actions)
	for i := range ind.givenAction {
		ind.givenAction[i] = 1
	}
	ind.acted = false
	ind.actual = nil
	ind.predictions = nil
}

// Install replaces both networks' weights. Both genomes are checked before
// either is applied, and the history is reset on success.
func (ind *Individual) Install(action, prediction model.Genome) error {
	if len(action) != ind.action.GenomeLen() {
		return fmt.Errorf("%w: action length=%d want=%d", nn.ErrMalformedGenome, len(action), ind.action.GenomeLen())
	}
	if len(prediction) != ind.prediction.GenomeLen() {
		return fmt.Errorf("%w: prediction length=%d want=%d", nn.ErrMalformedGenome, len(prediction), ind.prediction.GenomeLen())
	}
	if err := ind.action.FromGenome(action); err != nil {
		return err
	}
	if err := ind.prediction.FromGenome(prediction); err != nil {
		return err
	}
	ind.Reset()
	return nil
}

func (ind *Individual) Genomes() (action, prediction model.Genome) {
	return ind.action.ToGenome(), ind.prediction.ToGenome()
}

func (ind *Individual) Clone() *Individual {
	out := &Individual{
		cfg:         ind.cfg,
		action:      ind.action.Clone(),
		prediction:  ind.prediction.Clone(),
		givenAction: append([]float64(nil), ind.givenAction...),
		acted:       ind.acted,
	}
	for _, row := range ind.actual {
		out.actual = append(out.actual, append([]float64(nil), row...))
	}
	for _, row := range ind.predictions {
		out.predictions = append(out.predictions, append([]float64(nil), row...))
	}
	return out
}
