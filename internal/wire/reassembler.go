package wire

import (
	"bytes"
	"fmt"
)

// DefaultMaxFrameBytes bounds the buffered tail. A Thymio genome pair is a
// few kilobytes of text.
const DefaultMaxFrameBytes = 1 << 20

type ResultKind int

const (
	Incomplete ResultKind = iota
	Invalid
	Complete
)

func (k ResultKind) String() string {
	switch k {
	case Incomplete:
		return "incomplete"
	case Invalid:
		return "invalid"
	case Complete:
		return "message"
	default:
		return fmt.Sprintf("result(%d)", int(k))
	}
}

// Result is the outcome of one Next call. Message is set only for Complete,
// Err only for Invalid.
type Result struct {
	Kind    ResultKind
	Message Message
	Err     error
}

// Reassembler carries partial frames across deliveries. It is not safe for
// concurrent use; it belongs to the tick loop.
type Reassembler struct {
	dims          Dimensions
	MaxFrameBytes int
	buf           []byte
}

func NewReassembler(dims Dimensions) *Reassembler {
	return &Reassembler{dims: dims, MaxFrameBytes: DefaultMaxFrameBytes}
}

func (r *Reassembler) Feed(chunks ...[]byte) {
	for _, c := range chunks {
		r.buf = append(r.buf, c...)
	}
}

// Next extracts the next frame. An unterminated tail is Incomplete and kept.
// A terminated frame that fails to decode is Invalid and dropped.
func (r *Reassembler) Next() Result {
	idx := bytes.IndexByte(r.buf, Terminator)
	if idx < 0 {
		limit := r.MaxFrameBytes
		if limit <= 0 {
			limit = DefaultMaxFrameBytes
		}
		if len(r.buf) > limit {
			size := len(r.buf)
			r.buf = nil
			return Result{Kind: Invalid, Err: fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)}
		}
		return Result{Kind: Incomplete}
	}
	frame := r.buf[:idx]
	rest := r.buf[idx+1:]
	msg, err := Decode(bytes.TrimSuffix(frame, []byte{'\r'}), r.dims)
	r.buf = append(r.buf[:0], rest...)
	if err != nil {
		return Result{Kind: Invalid, Err: err}
	}
	return Result{Kind: Complete, Message: msg}
}

// Drain returns every complete message currently buffered and the number of
// invalid frames skipped on the way.
func (r *Reassembler) Drain() (msgs []Message, invalid int) {
	for {
		res := r.Next()
		switch res.Kind {
		case Complete:
			msgs = append(msgs, res.Message)
		case Invalid:
			invalid++
		default:
			return msgs, invalid
		}
	}
}

// Pending is the number of buffered bytes not yet framed.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}

func (r *Reassembler) Reset() {
	r.buf = nil
}
