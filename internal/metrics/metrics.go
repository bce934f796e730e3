// Package metrics exports coordinator activity as prometheus series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/coord"
)

const namespace = "surprise"

// Collector records master and agent events. It satisfies coord.Recorder.
type Collector struct {
	generations   *prometheus.CounterVec
	promotions    prometheus.Counter
	reports       *prometheus.CounterVec
	invalidFrames prometheus.Counter
	evalID        prometheus.Gauge
	scoreKing     prometheus.Gauge
	scoreMutant   prometheus.Gauge
	agentScore    prometheus.Histogram
}

var _ coord.Recorder = (*Collector)(nil)

// NewCollector registers every series on reg. Pass prometheus.NewRegistry()
// to keep runs isolated.
func NewCollector(reg prometheus.Registerer, role string) (*Collector, error) {
	labels := prometheus.Labels{"role": role}
	c := &Collector{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "generations_total",
			Help:        "Generation decisions by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "king_promotions_total",
			Help:        "Mutants that replaced the king.",
			ConstLabels: labels,
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "reports_total",
			Help:        "Score reports received by the master.",
			ConstLabels: labels,
		}, []string{"status"}),
		invalidFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "invalid_frames_total",
			Help:        "Terminated frames that failed to decode.",
			ConstLabels: labels,
		}),
		evalID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "eval_id",
			Help:        "Last decided evaluation id.",
			ConstLabels: labels,
		}),
		scoreKing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "score_king",
			Help:        "King score before the last decision.",
			ConstLabels: labels,
		}),
		scoreMutant: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "score_mutant",
			Help:        "Aggregated mutant score of the last decision.",
			ConstLabels: labels,
		}),
		agentScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "agent_evaluation_score",
			Help:        "Scores computed by this agent.",
			ConstLabels: labels,
			Buckets:     prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
	for _, col := range []prometheus.Collector{
		c.generations, c.promotions, c.reports, c.invalidFrames,
		c.evalID, c.scoreKing, c.scoreMutant, c.agentScore,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) Generation(ev coord.GenerationEvent) {
	c.evalID.Set(float64(ev.EvalID))
	c.scoreKing.Set(ev.ScoreKing)
	switch {
	case ev.TimedOut:
		c.generations.WithLabelValues("timeout").Inc()
		return
	case ev.PostEval:
		c.generations.WithLabelValues("post_eval").Inc()
	case ev.ReEvaluation:
		c.generations.WithLabelValues("re_evaluation").Inc()
	default:
		c.generations.WithLabelValues("regular").Inc()
	}
	c.scoreMutant.Set(ev.ScoreMutant)
	if ev.Promoted {
		c.promotions.Inc()
	}
}

func (c *Collector) ReportAccepted() { c.reports.WithLabelValues("accepted").Inc() }
func (c *Collector) ReportStale()    { c.reports.WithLabelValues("stale").Inc() }
func (c *Collector) InvalidFrame()   { c.invalidFrames.Inc() }

func (c *Collector) AgentEvaluation(score float64) {
	c.agentScore.Observe(score)
}
