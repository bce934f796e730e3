package coord

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/agent"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/wire"
)

var testSensor = []float64{0.25, 0.75}

func newTestAgent(t *testing.T, params Params) (*Agent, *fakeChannel, *fixedClock) {
	t.Helper()
	ch := &fakeChannel{}
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	a, err := NewAgent(AgentOptions{
		Name:    "thymio-1",
		Params:  params,
		Channel: ch,
		Rand:    rand.New(rand.NewSource(2)),
		Clock:   clock.Now,
	})
	require.NoError(t, err)
	return a, ch, clock
}

func sampleGenomeBroadcast(t *testing.T, params Params, evalID int, stamp float64) wire.Broadcast {
	t.Helper()
	src, err := agent.New(params.Individual, rand.New(rand.NewSource(int64(100+evalID))))
	require.NoError(t, err)
	action, prediction := src.Genomes()
	return wire.Broadcast{EvalID: evalID, Stamp: stamp, Action: action, Prediction: prediction}
}

func TestAgentHandshake(t *testing.T) {
	a, ch, _ := newTestAgent(t, testParams())

	_, ok, err := a.Step(testSensor)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Init, a.State())
	require.Equal(t, []wire.Message{wire.Hello{Name: "thymio-1"}}, ch.sentMessages(t))

	_, _, err = a.Step(testSensor)
	require.NoError(t, err)
	assert.Equal(t, Init, a.State())
	assert.Len(t, ch.sent, 1, "hello is sent once")

	ch.push(wire.Start{})
	_, ok, err = a.Step(testSensor)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Wait, a.State())
}

func TestAgentReassemblesSplitBroadcast(t *testing.T) {
	params := testParams()
	b := sampleGenomeBroadcast(t, params, 4, 1700000000)
	frame := wire.MustEncode(b)

	for _, cut := range []int{1, 7, len(frame) / 2, len(frame) - 1} {
		a, ch, _ := newTestAgent(t, params)
		a.state = Wait

		ch.inbox = [][]byte{frame[:cut]}
		_, ok, err := a.Step(testSensor)
		require.NoError(t, err)
		assert.False(t, ok)
		require.Equal(t, Wait, a.State(), "cut=%d", cut)

		ch.inbox = [][]byte{frame[cut:]}
		_, _, err = a.Step(testSensor)
		require.NoError(t, err)
		require.Equal(t, Run, a.State(), "cut=%d", cut)

		action, prediction := a.Mutant().Genomes()
		assert.True(t, action.Equal(b.Action))
		assert.True(t, prediction.Equal(b.Prediction))
		assert.Equal(t, 4, a.EvalID())
	}
}

func TestAgentInstallsGenomeDeliveredWithStart(t *testing.T) {
	params := testParams()
	a, ch, _ := newTestAgent(t, params)
	b := sampleGenomeBroadcast(t, params, 0, 1700000000)

	joined := append(wire.MustEncode(wire.Start{}), wire.MustEncode(b)...)
	ch.inbox = [][]byte{joined}
	_, _, err := a.Step(testSensor)
	require.NoError(t, err)
	require.Equal(t, Wait, a.State())

	_, _, err = a.Step(testSensor)
	require.NoError(t, err)
	require.Equal(t, Run, a.State())
}

func TestAgentKeepsLatestBroadcast(t *testing.T) {
	params := testParams()
	a, ch, _ := newTestAgent(t, params)
	a.state = Wait
	older := sampleGenomeBroadcast(t, params, 1, 1700000000)
	newer := sampleGenomeBroadcast(t, params, 2, 1700000000)
	ch.push(older)
	ch.push(newer)

	_, _, err := a.Step(testSensor)
	require.NoError(t, err)
	assert.Equal(t, 2, a.EvalID())
	action, _ := a.Mutant().Genomes()
	assert.True(t, action.Equal(newer.Action))
}

func TestAgentRejectsWrongGenomeLength(t *testing.T) {
	params := testParams()
	a, ch, _ := newTestAgent(t, params)
	a.state = Wait
	before, _ := a.Mutant().Genomes()

	b := sampleGenomeBroadcast(t, params, 1, 1700000000)
	b.Action = b.Action[:len(b.Action)-1]
	ch.push(b)
	_, _, err := a.Step(testSensor)
	require.NoError(t, err)
	assert.Equal(t, Wait, a.State())
	after, _ := a.Mutant().Genomes()
	assert.True(t, after.Equal(before))
}

func TestAgentRunReportsScore(t *testing.T) {
	params := testParams()
	a, ch, _ := newTestAgent(t, params)
	a.state = Wait
	ch.push(sampleGenomeBroadcast(t, params, 3, 1700000000))
	_, _, err := a.Step(testSensor)
	require.NoError(t, err)
	require.Equal(t, Run, a.State())

	for i := 0; i < params.EvalTime; i++ {
		out, ok, err := a.Step(testSensor)
		require.NoError(t, err)
		require.True(t, ok, "tick %d", i)
		assert.Len(t, out.Action, 2)
		assert.Len(t, out.Prediction, 2)
	}
	_, ok, err := a.Step(testSensor)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Wait, a.State())
	assert.Equal(t, -1, a.Tick())

	msgs := ch.sentMessages(t)
	require.Len(t, msgs, 1)
	report, isReport := msgs[0].(wire.Report)
	require.True(t, isReport)
	assert.Equal(t, 3, report.EvalID)
	assert.LessOrEqual(t, report.Score, 1.0)
}

func TestAgentWaitsForStartStamp(t *testing.T) {
	params := testParams()
	a, ch, clock := newTestAgent(t, params)
	a.state = Wait
	ch.push(sampleGenomeBroadcast(t, params, 0, 1700000001.5))
	_, _, err := a.Step(testSensor)
	require.NoError(t, err)
	require.Equal(t, Run, a.State())

	_, ok, err := a.Step(testSensor)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, -1, a.Tick())

	clock.now = clock.now.Add(2 * time.Second)
	_, ok, err = a.Step(testSensor)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, a.Tick())
}

func TestAgentPostEvalExtendsWindow(t *testing.T) {
	params := testParams()
	a, ch, _ := newTestAgent(t, params)
	a.state = Wait
	b := sampleGenomeBroadcast(t, params, 10, 1700000000)
	b.PostEval = true
	ch.push(b)
	_, _, err := a.Step(testSensor)
	require.NoError(t, err)
	assert.True(t, a.PostEval())

	for i := 0; i < params.PostEvalTime; i++ {
		_, ok, err := a.Step(testSensor)
		require.NoError(t, err)
		require.True(t, ok, "tick %d", i)
	}
	_, ok, err := a.Step(testSensor)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, ch.sent, 1)
}

func TestAgentSensorWidthAbandonsWindow(t *testing.T) {
	params := testParams()
	params.EvalTime = 1
	a, ch, _ := newTestAgent(t, params)
	a.state = Wait
	ch.push(sampleGenomeBroadcast(t, params, 0, 1700000000))
	_, _, err := a.Step(testSensor)
	require.NoError(t, err)

	_, ok, err := a.Step(testSensor)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = a.Step([]float64{1})
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, Wait, a.State())
	assert.Empty(t, ch.sent)
}

func TestNewAgentRequiresName(t *testing.T) {
	_, err := NewAgent(AgentOptions{Params: testParams(), Channel: &fakeChannel{}, Rand: rand.New(rand.NewSource(1))})
	require.Error(t, err)
}
