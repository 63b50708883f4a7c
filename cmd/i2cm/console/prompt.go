package console

import (
	"fmt"
	"strings"

	"github.com/chzyer/readline"
)

const (
	Yes = "y"
	No  = "n"
)

// YesOrNo asks a confirmation question; empty input counts as yes.
func YesOrNo(question string) (string, error) {
	return Prompt(question, Yes, No)
}

// Prompt reads one line from the terminal. When constraints are given
// the first one is the default: it is echoed uppercase and returned on
// empty or unmatched input.
func Prompt(question string, constraints ...string) (string, error) {
	if len(constraints) > 0 {
		question = fmt.Sprintf("%s [%s/%s]:", question,
			strings.ToUpper(constraints[0]), strings.Join(constraints[1:], "/"))
	}
	rl, err := readline.New(question)
	if err != nil {
		return "", err
	}
	defer func() { _ = rl.Close() }()
	answer, err := rl.Readline()
	if err != nil {
		return "", err
	}
	if len(constraints) == 0 {
		return answer, nil
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	for _, allowed := range constraints {
		if answer == allowed {
			return answer, nil
		}
	}
	return constraints[0], nil
}
