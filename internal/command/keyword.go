package command

import "strings"

type keywordRule struct {
	action Action
	anyOf  []string // matches if any phrase is present
	allOf  []string // matches if every phrase is present
}

// Order matters: the first matching rule wins. Note that "counterclockwise"
// contains "clockwise", so the rotate_cw rule also catches it.
var keywordRules = []keywordRule{
	{action: Forward, anyOf: []string{"forward", "move forward", "go forward"}},
	{action: Backward, anyOf: []string{"backward", "move backward", "go backward", "back"}},
	{action: Left, anyOf: []string{"left", "turn left", "go left"}},
	{action: Right, anyOf: []string{"right", "turn right", "go right"}},
	{action: Stop, anyOf: []string{"stop", "halt", "pause"}},
	{action: RotateCW, allOf: []string{"rotate", "clockwise"}},
	{action: RotateCCW, allOf: []string{"rotate", "counterclockwise"}},
}

func (r keywordRule) matches(s string) bool {
	if len(r.allOf) > 0 {
		for _, p := range r.allOf {
			if !strings.Contains(s, p) {
				return false
			}
		}
		return true
	}
	for _, p := range r.anyOf {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// ExtractMovementCommand classifies free text into one of the movement
// tokens. Matching is case-insensitive substring search. ok is false when no
// phrase is present.
func ExtractMovementCommand(text string) (Action, bool) {
	s := strings.ToLower(text)
	for _, r := range keywordRules {
		if r.matches(s) {
			return r.action, true
		}
	}
	return "", false
}

// KeywordStrategy adapts the classifier to the Strategy signature so it can
// be combined with the JSON strategies.
func KeywordStrategy(text string) (Action, error) {
	if a, ok := ExtractMovementCommand(text); ok {
		return a, nil
	}
	return "", ErrNoCommand
}
