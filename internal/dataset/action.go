package dataset

import "strconv"

// ActionLabel is the discrete motion class stored with every sample.
type ActionLabel int32

const (
	ActionForward ActionLabel = iota
	ActionBackward
	ActionLeft
	ActionRight
	ActionUp
	ActionDown
	ActionYawLeft
	ActionYawRight
	ActionHover
)

var actionNames = [...]string{
	ActionForward:  "forward",
	ActionBackward: "backward",
	ActionLeft:     "left",
	ActionRight:    "right",
	ActionUp:       "up",
	ActionDown:     "down",
	ActionYawLeft:  "yaw_left",
	ActionYawRight: "yaw_right",
	ActionHover:    "hover",
}

func (a ActionLabel) String() string {
	if a >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "action(" + strconv.Itoa(int(a)) + ")"
}

// MoveAction maps a drone-frame translation to its label. Forward/backward
// (dy) wins over sideways (dx), which wins over vertical (dz). A zero move
// reports false and leaves the current label in place.
func MoveAction(dx, dy, dz float64) (ActionLabel, bool) {
	switch {
	case dy > 0:
		return ActionForward, true
	case dy < 0:
		return ActionBackward, true
	case dx < 0:
		return ActionLeft, true
	case dx > 0:
		return ActionRight, true
	case dz > 0:
		return ActionUp, true
	case dz < 0:
		return ActionDown, true
	}
	return 0, false
}

// RotateAction maps a yaw command to its label; positive turns left.
func RotateAction(delta float64) (ActionLabel, bool) {
	switch {
	case delta > 0:
		return ActionYawLeft, true
	case delta < 0:
		return ActionYawRight, true
	}
	return 0, false
}
