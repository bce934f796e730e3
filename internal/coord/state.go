package coord

import (
	"errors"
	"fmt"
)

var ErrUnhandledState = errors.New("unhandled coordinator state")

type State int

const (
	Init State = iota
	Wait
	Run
	WaitPuffer
	Stop
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Wait:
		return "wait"
	case Run:
		return "run"
	case WaitPuffer:
		return "wait_puffer"
	case Stop:
		return "stop"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
