package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Strategy pulls an action out of text. It returns ErrNoCommand when there is
// nothing to find and another error when the text is malformed.
type Strategy func(text string) (Action, error)

// A flat object (no nested braces) holding a string "action" field.
var actionObjectRe = regexp.MustCompile(`\{[^{}]*"action"\s*:\s*"([^"]+)"[^{}]*\}`)

// RegexJSONStrategy takes the first flat {"action": "..."} object in text.
func RegexJSONStrategy(text string) (Action, error) {
	m := actionObjectRe.FindStringSubmatch(text)
	if m == nil {
		return "", ErrNoCommand
	}
	return Action(m[1]), nil
}

// BraceJSONStrategy parses everything from the first '{' to the last '}' as
// one object and reads its "action" string field. Text after the first
// complete object is ignored. Model output that is not strict JSON, such as
// single-quoted strings or bare words, is read as a YAML flow mapping.
func BraceJSONStrategy(text string) (Action, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return "", ErrNoCommand
	}

	obj, err := decodeObject(text[start : end+1])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	raw, ok := obj["action"]
	if !ok || raw == nil {
		return "", ErrNoCommand
	}
	action, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: action is not a string", ErrMalformedJSON)
	}
	if action == "" {
		return "", ErrNoCommand
	}
	return Action(action), nil
}

func decodeObject(sub string) (map[string]any, error) {
	var obj map[string]any
	jsonErr := json.NewDecoder(strings.NewReader(sub)).Decode(&obj)
	if jsonErr == nil && obj != nil {
		return obj, nil
	}

	var lenient map[string]any
	if err := yaml.Unmarshal([]byte(leadingObject(sub)), &lenient); err == nil && lenient != nil {
		return lenient, nil
	}
	if jsonErr == nil {
		return nil, errors.New("not an object")
	}
	return nil, jsonErr
}

// leadingObject returns the prefix of s up to the brace closing its first
// '{', skipping braces inside single- or double-quoted strings. s is returned
// whole when the braces never balance.
func leadingObject(s string) string {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' && quote == '"' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return s
}

// FirstOf runs strategies in order and returns the first action found. When
// all of them miss, a malformed-input error is preferred over ErrNoCommand so
// the caller can log something useful.
func FirstOf(strategies ...Strategy) Strategy {
	return func(text string) (Action, error) {
		err := ErrNoCommand
		for _, s := range strategies {
			a, sErr := s(text)
			if sErr == nil {
				return a, nil
			}
			if !errors.Is(sErr, ErrNoCommand) {
				err = sErr
			}
		}
		return "", err
	}
}

var jsonAction = FirstOf(RegexJSONStrategy, BraceJSONStrategy)

// ExtractJSONAction finds the action of a JSON object embedded in text.
func ExtractJSONAction(text string) (Action, error) {
	return jsonAction(text)
}

// ExtractAndSendJSONAction extracts a JSON action from text and hands it to
// onCommand together with address. Misses and malformed JSON only reach the
// log; onCommand is called at most once.
func ExtractAndSendJSONAction(logger *zap.Logger, text, address string, onCommand func(address string, action Action)) {
	action, err := ExtractJSONAction(text)
	switch {
	case err == nil:
		logger.Debug("extracted json action", zap.String("action", string(action)))
		onCommand(address, action)
	case errors.Is(err, ErrNoCommand):
		logger.Debug("no json action in response")
	default:
		logger.Warn("failed to extract json action from response", zap.Error(err))
	}
}
