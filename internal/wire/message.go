// Package wire frames coordinator messages as separator-delimited text and
// reassembles them from an unreliable, fragmenting byte channel.
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
)

const (
	FieldSep   = "####"
	ElemSep    = "@"
	Terminator = '\n'

	helloTag = "hello"
	startTag = "start"
)

var (
	ErrInvalidFrame   = errors.New("invalid frame")
	ErrGenomeLength   = errors.New("genome length mismatch")
	ErrFrameTooLarge  = errors.New("frame exceeds size limit")
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is one of Broadcast, Report, Hello or Start.
type Message interface {
	isMessage()
}

// Broadcast carries the genome every agent evaluates next. Stamp is the wall
// clock time in unix seconds before which agents must not start.
type Broadcast struct {
	EvalID     int
	Stamp      float64
	PostEval   bool
	Action     model.Genome
	Prediction model.Genome
}

type Report struct {
	EvalID int
	Score  float64
}

// Hello announces an agent to the master.
type Hello struct {
	Name string
}

// Start acknowledges contact; agents leave their init state on any data.
type Start struct{}

func (Broadcast) isMessage() {}
func (Report) isMessage() {}
func (Hello) isMessage() {}
func (Start) isMessage() {}

// Dimensions are the genome lengths a Broadcast must carry. Zero disables the
// check for that genome.
type Dimensions struct {
	ActionLen     int
	PredictionLen int
}

func DimensionsFor(d model.Dimensions) Dimensions {
	return Dimensions{ActionLen: d.ActionGenomeLen(), PredictionLen: d.PredictionGenomeLen()}
}

func Encode(m Message) ([]byte, error) {
	var b strings.Builder
	switch msg := m.(type) {
	case Broadcast:
		if msg.EvalID < 0 || len(msg.Action) == 0 || len(msg.Prediction) == 0 {
			return nil, fmt.Errorf("%w: broadcast eval=%d action=%d prediction=%d", ErrInvalidMessage, msg.EvalID, len(msg.Action), len(msg.Prediction))
		}
		b.WriteString(strconv.Itoa(msg.EvalID))
		b.WriteString(FieldSep)
		b.WriteString(formatFloat(msg.Stamp))
		b.WriteString(FieldSep)
		if msg.PostEval {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
		b.WriteString(FieldSep)
		writeGenome(&b, msg.Action)
		b.WriteString(FieldSep)
		writeGenome(&b, msg.Prediction)
	case Report:
		if msg.EvalID < 0 {
			return nil, fmt.Errorf("%w: report eval=%d", ErrInvalidMessage, msg.EvalID)
		}
		b.WriteString(strconv.Itoa(msg.EvalID))
		b.WriteString(FieldSep)
		b.WriteString(formatFloat(msg.Score))
	case Hello:
		if msg.Name == "" || strings.Contains(msg.Name, FieldSep) || strings.ContainsRune(msg.Name, Terminator) {
			return nil, fmt.Errorf("%w: hello name %q", ErrInvalidMessage, msg.Name)
		}
		b.WriteString(helloTag)
		b.WriteString(FieldSep)
		b.WriteString(msg.Name)
	case Start:
		b.WriteString(startTag)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidMessage, m)
	}
	b.WriteByte(Terminator)
	return []byte(b.String()), nil
}

// MustEncode is Encode for messages built by this process.
func MustEncode(m Message) []byte {
	out, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return out
}

// Decode parses one frame without its terminator.
func Decode(frame []byte, dims Dimensions) (Message, error) {
	fields := strings.Split(string(frame), FieldSep)
	switch {
	case len(fields) == 1 && fields[0] == startTag:
		return Start{}, nil
	case len(fields) == 2 && fields[0] == helloTag:
		if fields[1] == "" {
			return nil, fmt.Errorf("%w: empty hello name", ErrInvalidFrame)
		}
		return Hello{Name: fields[1]}, nil
	case len(fields) == 2:
		return decodeReport(fields)
	case len(fields) == 5:
		return decodeBroadcast(fields, dims)
	default:
		return nil, fmt.Errorf("%w: %d fields", ErrInvalidFrame, len(fields))
	}
}

func decodeReport(fields []string) (Message, error) {
	evalID, err := parseEvalID(fields[0])
	if err != nil {
		return nil, err
	}
	score, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: score: %v", ErrInvalidFrame, err)
	}
	return Report{EvalID: evalID, Score: score}, nil
}

func decodeBroadcast(fields []string, dims Dimensions) (Message, error) {
	evalID, err := parseEvalID(fields[0])
	if err != nil {
		return nil, err
	}
	stamp, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: stamp: %v", ErrInvalidFrame, err)
	}
	postEval, err := strconv.ParseBool(fields[2])
	if err != nil {
		return nil, fmt.Errorf("%w: post eval flag: %v", ErrInvalidFrame, err)
	}
	action, err := parseGenome(fields[3], dims.ActionLen)
	if err != nil {
		return nil, fmt.Errorf("action genome: %w", err)
	}
	prediction, err := parseGenome(fields[4], dims.PredictionLen)
	if err != nil {
		return nil, fmt.Errorf("prediction genome: %w", err)
	}
	return Broadcast{
		EvalID:     evalID,
		Stamp:      stamp,
		PostEval:   postEval,
		Action:     action,
		Prediction: prediction,
	}, nil
}

func parseEvalID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: eval id: %v", ErrInvalidFrame, err)
	}
	if id < 0 {
		return 0, fmt.Errorf("%w: negative eval id %d", ErrInvalidFrame, id)
	}
	return id, nil
}

func parseGenome(s string, want int) (model.Genome, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty genome", ErrInvalidFrame)
	}
	parts := strings.Split(s, ElemSep)
	if want > 0 && len(parts) != want {
		return nil, fmt.Errorf("%w: got=%d want=%d", ErrGenomeLength, len(parts), want)
	}
	g := make(model.Genome, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: gene %d: %v", ErrInvalidFrame, i, err)
		}
		g[i] = v
	}
	return g, nil
}

func writeGenome(b *strings.Builder, g model.Genome) {
	for i, v := range g {
		if i > 0 {
			b.WriteString(ElemSep)
		}
		b.WriteString(formatFloat(v))
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
