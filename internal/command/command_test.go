package command

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestExtractMovementCommand(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Action
	}{
		{"forward", "Go forward please", Forward},
		{"backward", "Move BACKWARD slowly", Backward},
		{"back fallback", "step back", Backward},
		{"left", "Please turn left now", Left},
		{"right", "Turn RIGHT", Right},
		{"stop", "stop", Stop},
		{"halt", "halt immediately", Stop},
		{"pause", "pause for a second", Stop},
		{"rotate cw", "rotate clockwise slowly", RotateCW},
		// "counterclockwise" contains "clockwise" so the earlier rule wins.
		{"rotate ccw shadowed", "rotate counterclockwise", RotateCW},
		{"first rule wins", "forward then left", Forward},
		{"left before right", "left or right", Left},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractMovementCommand(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractMovementCommandNoMatch(t *testing.T) {
	for _, text := range []string{"", "hello there", "I see a red cup on the table", "rotate the arm"} {
		got, ok := ExtractMovementCommand(text)
		assert.False(t, ok, text)
		assert.Empty(t, got, text)
	}
}

func TestExtractMovementCommandIdempotent(t *testing.T) {
	text := "Okay, I will turn right."
	a1, ok1 := ExtractMovementCommand(text)
	a2, ok2 := ExtractMovementCommand(text)
	assert.Equal(t, a1, a2)
	assert.Equal(t, ok1, ok2)
}

func TestKeywordStrategy(t *testing.T) {
	a, err := KeywordStrategy("go left")
	require.NoError(t, err)
	assert.Equal(t, Left, a)

	_, err = KeywordStrategy("nothing to see")
	assert.ErrorIs(t, err, ErrNoCommand)
}

func TestExtractJSONAction(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Action
	}{
		{"embedded in prose", `I think the robot should {"action": "extend_gripper"} now.`, "extend_gripper"},
		{"sibling fields", `{"reason": "cup is close", "action": "open_claw", "confidence": 0.9}`, "open_claw"},
		{"open vocabulary", `{"action":"wave_hello"}`, "wave_hello"},
		{"first match", `{"action": "dance"} or maybe {"action": "close_claw"}`, "dance"},
		{"nested falls back to parse", `Plan: {"plan": {"step": 1}, "action": "move_arms_up"}`, "move_arms_up"},
		{"single quotes", `{'action': 'dance', 'params': {'speed': 2}}`, "dance"},
		{"trailing text after object", `{"action": "dance", "params": {"speed": 2}} and then {maybe}`, "dance"},
		{"unquoted value", `{"action": open_claw}`, "open_claw"},
		{"single quotes then trailing braces", `Try {'action': 'close_claw', 'why': 'a } in here'} or {later}`, "close_claw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONAction(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSONActionMisses(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
	}{
		{"no braces", "extend the gripper please", ErrNoCommand},
		{"unbalanced", `{"action": "open_claw"`, ErrNoCommand},
		{"missing key", `{"command": "dance"}`, ErrNoCommand},
		{"empty action", `{"action": ""}`, ErrNoCommand},
		{"broken value", `{"action": [}`, ErrMalformedJSON},
		{"non-string action", `{"action": 5}`, ErrMalformedJSON},
		{"reversed braces", `} nothing {`, ErrNoCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONAction(tt.text)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, got)
		})
	}
}

func TestFirstOf(t *testing.T) {
	miss := func(string) (Action, error) { return "", ErrNoCommand }
	broken := func(string) (Action, error) { return "", errors.New("boom") }
	hit := func(string) (Action, error) { return "dance", nil }

	a, err := FirstOf(miss, hit, broken)("x")
	require.NoError(t, err)
	assert.Equal(t, Action("dance"), a)

	_, err = FirstOf(miss, broken, miss)("x")
	assert.EqualError(t, err, "boom")

	_, err = FirstOf()("x")
	assert.ErrorIs(t, err, ErrNoCommand)

	a, err = FirstOf(RegexJSONStrategy, KeywordStrategy)("just go forward")
	require.NoError(t, err)
	assert.Equal(t, Forward, a)
}

func TestExtractAndSendJSONAction(t *testing.T) {
	logger := zaptest.NewLogger(t)

	var calls []string
	onCommand := func(address string, action Action) {
		calls = append(calls, address+"|"+string(action))
	}

	ExtractAndSendJSONAction(logger, `Sure! {"action": "extend_gripper"}`, "10.0.0.5", onCommand)
	assert.Equal(t, []string{"10.0.0.5|extend_gripper"}, calls)

	calls = nil
	ExtractAndSendJSONAction(logger, `{"action": broken`, "10.0.0.5", onCommand)
	ExtractAndSendJSONAction(logger, `{"act": "dance"}`, "10.0.0.5", onCommand)
	ExtractAndSendJSONAction(logger, `no json at all`, "10.0.0.5", onCommand)
	assert.Empty(t, calls)
}
