package runtime

import (
	"fmt"
	"strings"
)

// SplitCommand splits a manifest command into an argv slice without
// invoking a shell. Single and double quotes group words; a backslash
// escapes the next character outside single quotes. There is no
// variable expansion, globbing, or redirection.
func SplitCommand(command string) ([]string, error) {
	var (
		argv    []string
		cur     strings.Builder
		quote   rune
		escaped bool
		started bool
	)

	for _, r := range command {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			started = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			started = true
		case r == ' ' || r == '\t' || r == '\n':
			if started {
				argv = append(argv, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}

	if escaped {
		return nil, fmt.Errorf("command ends with an unfinished escape: %q", command)
	}
	if quote != 0 {
		return nil, fmt.Errorf("command has an unterminated %c quote: %q", quote, command)
	}
	if started {
		argv = append(argv, cur.String())
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return argv, nil
}
