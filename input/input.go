// Package input contains definitions shared with the device layer
// that feeds raw events into the compositor.
package input

// Button indicates a mouse button.
type Button uint32

// These values were pulled from linux/input-event-codes.h.
const (
	ButtonLeft Button = 0x110 + iota
	ButtonRight
	ButtonMiddle
	ButtonSide
	ButtonExtra
	ButtonForward
	ButtonBack
	ButtonTask
)

func (b Button) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonRight:
		return "right"
	case ButtonMiddle:
		return "middle"
	case ButtonSide:
		return "side"
	case ButtonExtra:
		return "extra"
	case ButtonForward:
		return "forward"
	case ButtonBack:
		return "back"
	case ButtonTask:
		return "task"
	}

	return "unknown"
}

// ButtonState is the direction of a button or key transition.
type ButtonState uint32

const (
	StateReleased ButtonState = iota
	StatePressed
)

func (s ButtonState) String() string {
	switch s {
	case StateReleased:
		return "released"
	case StatePressed:
		return "pressed"
	}
	return "unknown"
}
