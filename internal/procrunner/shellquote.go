package procrunner

import "strings"

// Quote returns s quoted for safe inclusion in a single-string shell command,
// the Go equivalent of Python's shlex.quote. The executor uses this for every
// git ref it interpolates into a command string (tags, refspecs) since those
// values can originate from update requests.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if isShellSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func isShellSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == '/' || r == ':' || r == '@' || r == '+':
		default:
			return false
		}
	}
	return true
}
