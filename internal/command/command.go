// Package command turns AI-generated text into robot action tokens.
//
// Two extraction modes coexist. The keyword classifier maps natural language
// onto a small closed set of movement tokens. The JSON extractor pulls an
// open-ended action string out of a {"action": "..."} object embedded in prose.
// Both are pure: no I/O, no shared state.
package command

import "errors"

// Action is a discrete command string understood by the robot endpoint.
type Action string

// Movement tokens produced by the keyword classifier.
const (
	Forward   Action = "forward"
	Backward  Action = "backward"
	Left      Action = "left"
	Right     Action = "right"
	Stop      Action = "stop"
	RotateCW  Action = "rotate_cw"
	RotateCCW Action = "rotate_ccw"
)

// Actions the robot firmware implements. JSON extraction is not limited to
// these; they are what the prediction prompt offers the model.
var RobotActions = []Action{
	"extend_gripper",
	"retract_gripper",
	"open_claw",
	"close_claw",
	"turn_table_left",
	"turn_table_right",
	"move_arms_up",
	"move_arms_down",
	"dance",
}

var (
	// ErrNoCommand means the text holds nothing recognisable. It is an
	// expected outcome, not a failure.
	ErrNoCommand = errors.New("no command found")
	// ErrMalformedJSON means braces were found but their contents did not parse.
	ErrMalformedJSON = errors.New("malformed embedded json")
)

func (a Action) String() string { return string(a) }
