package coord

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/agent"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/wire"
)

type fakeChannel struct {
	sent   [][]byte
	inbox  [][]byte
	closed bool
}

func (c *fakeChannel) Send(p []byte) error {
	c.sent = append(c.sent, append([]byte(nil), p...))
	return nil
}

func (c *fakeChannel) Poll() [][]byte {
	out := c.inbox
	c.inbox = nil
	return out
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func (c *fakeChannel) push(m wire.Message) {
	c.inbox = append(c.inbox, wire.MustEncode(m))
}

func (c *fakeChannel) sentMessages(t *testing.T) []wire.Message {
	t.Helper()
	var out []wire.Message
	for _, frame := range c.sent {
		msg, err := wire.Decode(frame[:len(frame)-1], wire.Dimensions{})
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func (c *fakeChannel) broadcasts(t *testing.T) []wire.Broadcast {
	t.Helper()
	var out []wire.Broadcast
	for _, msg := range c.sentMessages(t) {
		if b, ok := msg.(wire.Broadcast); ok {
			out = append(out, b)
		}
	}
	return out
}

type memoryKingLog struct {
	records []model.KingRecord
}

func (l *memoryKingLog) AppendKing(_ context.Context, record model.KingRecord) error {
	l.records = append(l.records, record)
	return nil
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func testParams() Params {
	return Params{
		Evals:            10,
		EvalTime:         5,
		PostEvalTime:     8,
		ReEvalProb:       0,
		ReEvalWeight:     0.2,
		MutationRate:     0.1,
		Quorum:           3,
		GraceTicks:       3,
		InitDelayTicks:   0,
		InitTimeoutTicks: 0,
		StartDelay:       0,
		Individual: agent.Config{
			Dimensions: model.Dimensions{
				Sensors:          2,
				Actions:          2,
				HiddenAction:     3,
				HiddenPrediction: 3,
			},
			ActionActivation:     "tanh",
			PredictionActivation: "sigmoid",
		},
	}
}

// startedMaster returns a master that has broadcast eval 0 and is waiting.
func startedMaster(t *testing.T, params Params, opts MasterOptions) (*Master, *fakeChannel) {
	t.Helper()
	ch := &fakeChannel{}
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	opts.Params = params
	opts.Channel = ch
	opts.Rand = rand.New(rand.NewSource(1))
	opts.Clock = clock.Now
	m, err := NewMaster(opts)
	require.NoError(t, err)

	for i := 0; i < params.Quorum; i++ {
		ch.push(wire.Hello{Name: string(rune('a' + i))})
	}
	require.NoError(t, m.Tick(context.Background()))
	require.Equal(t, Wait, m.State())
	return m, ch
}
