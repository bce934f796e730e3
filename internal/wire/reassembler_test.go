package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDims = Dimensions{ActionLen: 4, PredictionLen: 3}

func TestReassemblerSplitAtEveryOffset(t *testing.T) {
	want := sampleBroadcast()
	frame := MustEncode(want)
	for cut := 0; cut <= len(frame); cut++ {
		r := NewReassembler(testDims)
		r.Feed(frame[:cut])
		if cut < len(frame) {
			res := r.Next()
			require.Equal(t, Incomplete, res.Kind, "cut=%d", cut)
			require.Equal(t, cut, r.Pending())
		}
		r.Feed(frame[cut:])
		res := r.Next()
		require.Equal(t, Complete, res.Kind, "cut=%d err=%v", cut, res.Err)
		assert.Equal(t, want, res.Message)
		assert.Zero(t, r.Pending())
	}
}

func TestReassemblerConcatenatedFrames(t *testing.T) {
	r := NewReassembler(testDims)
	var joined []byte
	joined = append(joined, MustEncode(Report{EvalID: 1, Score: 0.5})...)
	joined = append(joined, MustEncode(Report{EvalID: 1, Score: 0.7})...)
	joined = append(joined, MustEncode(sampleBroadcast())[:10]...)
	r.Feed(joined)

	msgs, invalid := r.Drain()
	require.Zero(t, invalid)
	require.Len(t, msgs, 2)
	assert.Equal(t, Report{EvalID: 1, Score: 0.5}, msgs[0])
	assert.Equal(t, Report{EvalID: 1, Score: 0.7}, msgs[1])
	assert.Equal(t, 10, r.Pending())
}

func TestReassemblerTruncatedFloatStaysIncomplete(t *testing.T) {
	r := NewReassembler(testDims)
	r.Feed([]byte("4####0.12"))
	require.Equal(t, Incomplete, r.Next().Kind)
	r.Feed([]byte("5\n"))
	res := r.Next()
	require.Equal(t, Complete, res.Kind)
	assert.Equal(t, Report{EvalID: 4, Score: 0.125}, res.Message)
}

func TestReassemblerInvalidFrameDropped(t *testing.T) {
	r := NewReassembler(Dimensions{ActionLen: 5, PredictionLen: 3})
	r.Feed(MustEncode(sampleBroadcast()), MustEncode(Start{}))

	res := r.Next()
	require.Equal(t, Invalid, res.Kind)
	require.ErrorIs(t, res.Err, ErrGenomeLength)

	res = r.Next()
	require.Equal(t, Complete, res.Kind)
	assert.Equal(t, Start{}, res.Message)
	assert.Equal(t, Incomplete, r.Next().Kind)
}

func TestReassemblerOversizedTail(t *testing.T) {
	r := NewReassembler(testDims)
	r.MaxFrameBytes = 8
	r.Feed([]byte("0123456789"))
	res := r.Next()
	require.Equal(t, Invalid, res.Kind)
	require.ErrorIs(t, res.Err, ErrFrameTooLarge)
	assert.Zero(t, r.Pending())
}

func TestReassemblerCarriageReturn(t *testing.T) {
	r := NewReassembler(testDims)
	r.Feed([]byte("start\r\n"))
	res := r.Next()
	require.Equal(t, Complete, res.Kind)
	assert.Equal(t, Start{}, res.Message)
}

func TestResultKindString(t *testing.T) {
	assert.Equal(t, "incomplete", Incomplete.String())
	assert.Equal(t, "invalid", Invalid.String())
	assert.Equal(t, "message", Complete.String())
	assert.Equal(t, "result(9)", ResultKind(9).String())
}
