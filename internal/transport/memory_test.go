package transport

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/agent"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/coord"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
)

func TestInboxCopiesAndDrains(t *testing.T) {
	var in Inbox
	chunk := []byte("abc")
	in.Push(chunk)
	in.Push(nil)
	chunk[0] = 'x'

	require.Equal(t, 1, in.Len())
	got := in.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, "abc", string(got[0]))
	assert.Empty(t, in.Drain())
}

func TestHubRoutesAgentFramesToMaster(t *testing.T) {
	hub := NewHub(HubOptions{FragmentSize: 2})
	master := hub.Master()
	a := hub.Agent("a")
	b := hub.Agent("b")

	require.NoError(t, a.Send([]byte("hello####a\n")))
	require.NoError(t, b.Send([]byte("hello####b\n")))

	got := master.Poll()
	require.Len(t, got, 2, "agent frames stay whole")
	assert.Empty(t, a.Poll())
	assert.Equal(t, []string{"a", "b"}, hub.Agents())
}

func TestHubFragmentsMasterFrames(t *testing.T) {
	hub := NewHub(HubOptions{FragmentSize: 3})
	master := hub.Master()
	a := hub.Agent("a")
	b := hub.Agent("b")

	require.NoError(t, master.Send([]byte("start\n")))

	for _, ep := range []*MemoryEndpoint{a, b} {
		chunks := ep.Poll()
		require.Len(t, chunks, 2)
		assert.Equal(t, "start\n", string(bytes.Join(chunks, nil)))
	}
}

func TestClosedEndpointRejectsSend(t *testing.T) {
	hub := NewHub(HubOptions{})
	a := hub.Agent("a")
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.ErrorIs(t, a.Send([]byte("x")), ErrClosed)
	assert.Empty(t, hub.Agents())

	require.NoError(t, hub.Master().Send([]byte("start\n")))
	assert.Empty(t, a.Poll())
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func swarmParams() coord.Params {
	return coord.Params{
		Evals:          6,
		EvalTime:       5,
		PostEvalTime:   7,
		ReEvalProb:     0.3,
		ReEvalWeight:   0.2,
		MutationRate:   0.1,
		Quorum:         3,
		GraceTicks:     4,
		InitDelayTicks: 2,
		Individual: agent.Config{
			Dimensions: model.Dimensions{
				Sensors:          3,
				Actions:          2,
				HiddenAction:     4,
				HiddenPrediction: 4,
			},
			ActionActivation:     "tanh",
			PredictionActivation: "sigmoid",
		},
	}
}

// runSwarm drives one master and its agents in lockstep until the master
// stops or maxTicks elapse.
func runSwarm(t *testing.T, master *coord.Master, agents []*coord.Agent, clock *testClock, maxTicks int) int {
	t.Helper()
	rng := rand.New(rand.NewSource(99))
	ctx := context.Background()
	sensor := make([]float64, 3)
	for tick := 0; tick < maxTicks; tick++ {
		require.NoError(t, master.Tick(ctx))
		if master.State() == coord.Stop {
			return tick
		}
		for _, a := range agents {
			for i := range sensor {
				sensor[i] = rng.Float64()
			}
			out, ok, err := a.Step(sensor)
			require.NoError(t, err)
			if ok {
				require.Len(t, out.Action, 2)
				require.Len(t, out.Prediction, 3)
			}
		}
		clock.now = clock.now.Add(100 * time.Millisecond)
	}
	t.Fatalf("master did not stop within %d ticks (state %s, eval %d)", maxTicks, master.State(), master.EvalCount())
	return maxTicks
}

func TestSwarmOverFragmentingHubReachesStop(t *testing.T) {
	params := swarmParams()
	hub := NewHub(HubOptions{FragmentSize: 7})
	clock := &testClock{now: time.Unix(1700000000, 0)}

	var events []coord.GenerationEvent
	master, err := coord.NewMaster(coord.MasterOptions{
		RunID:    "e2e",
		Params:   params,
		Channel:  hub.Master(),
		Rand:     rand.New(rand.NewSource(1)),
		Listener: func(ev coord.GenerationEvent) { events = append(events, ev) },
		Clock:    clock.Now,
	})
	require.NoError(t, err)

	var agents []*coord.Agent
	for i, name := range []string{"thymio-1", "thymio-2", "thymio-3"} {
		a, err := coord.NewAgent(coord.AgentOptions{
			Name:    name,
			Params:  params,
			Channel: hub.Agent(name),
			Rand:    rand.New(rand.NewSource(int64(10 + i))),
			Clock:   clock.Now,
		})
		require.NoError(t, err)
		agents = append(agents, a)
	}

	runSwarm(t, master, agents, clock, 2000)

	require.Equal(t, params.Evals+1, master.EvalCount())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.True(t, last.PostEval)
	assert.Equal(t, params.Evals, last.EvalID)
	for _, ev := range events {
		assert.False(t, ev.TimedOut, "eval %d timed out", ev.EvalID)
		assert.Equal(t, 3, ev.Reports)
	}
	for _, a := range agents {
		assert.Equal(t, params.Evals, a.EvalID())
		assert.True(t, a.PostEval())
	}
}

func TestSwarmRecoversFromSilentAgent(t *testing.T) {
	params := swarmParams()
	params.Evals = 2
	params.ReEvalProb = 0
	hub := NewHub(HubOptions{})
	clock := &testClock{now: time.Unix(1700000000, 0)}

	var timeouts int
	master, err := coord.NewMaster(coord.MasterOptions{
		Params:  params,
		Channel: hub.Master(),
		Rand:    rand.New(rand.NewSource(2)),
		Listener: func(ev coord.GenerationEvent) {
			if ev.TimedOut {
				timeouts++
			}
		},
		Clock: clock.Now,
	})
	require.NoError(t, err)

	var agents []*coord.Agent
	for i := 0; i < 3; i++ {
		name := string(rune('a' + i))
		a, err := coord.NewAgent(coord.AgentOptions{
			Name:    name,
			Params:  params,
			Channel: hub.Agent(name),
			Rand:    rand.New(rand.NewSource(int64(i))),
			Clock:   clock.Now,
		})
		require.NoError(t, err)
		agents = append(agents, a)
	}

	// Let the master start, then silence one agent for a while.
	ctx := context.Background()
	sensor := []float64{0.1, 0.2, 0.3}
	for master.State() == coord.Init {
		require.NoError(t, master.Tick(ctx))
		for _, a := range agents {
			_, _, err := a.Step(sensor)
			require.NoError(t, err)
		}
	}
	for tick := 0; tick < params.EvalTime+params.GraceTicks+2; tick++ {
		require.NoError(t, master.Tick(ctx))
		for _, a := range agents[:2] {
			_, _, err := a.Step(sensor)
			require.NoError(t, err)
		}
	}
	require.Positive(t, timeouts)
	require.Equal(t, 0, master.EvalCount(), "timeout keeps the outstanding eval")

	runSwarm(t, master, agents, clock, 2000)
	assert.Equal(t, params.Evals+1, master.EvalCount())
}
