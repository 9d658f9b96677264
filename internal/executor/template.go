package executor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jethrojohnson/flowmake/internal/scheduler"
)

// MissingKeyError reports a command template referencing a substitution key
// that is neither a built-in placeholder nor a configuration parameter.
// It is a configuration error: surfaced at plan time, before any task runs.
type MissingKeyError struct {
	Task string
	Key  string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("task %q: no value for substitution key %q", e.Task, e.Key)
}

func (e *MissingKeyError) Unwrap() error { return scheduler.ErrConfig }

// RenderCommand substitutes a remote task's command template. Recognized
// placeholders, in ${name} or $name form:
//
//	in, out        all inputs/outputs, space separated
//	in1..inN       individual inputs, 1-based
//	out1..outN     individual outputs, 1-based
//	<param>        any key from the run's parameter map
//
// An unknown key is a fatal configuration error, never a silent no-op.
func RenderCommand(t *scheduler.Task, params map[string]string) (string, error) {
	vars := make(map[string]string, len(params)+2*len(t.Inputs)+2)
	for k, v := range params {
		vars[k] = v
	}
	vars["in"] = strings.Join(t.Inputs, " ")
	vars["out"] = strings.Join(t.Outputs, " ")
	for i, p := range t.Inputs {
		vars["in"+strconv.Itoa(i+1)] = p
	}
	for i, p := range t.Outputs {
		vars["out"+strconv.Itoa(i+1)] = p
	}

	var missing []string
	rendered := expand(t.Command, func(key string) (string, bool) {
		v, ok := vars[key]
		if !ok {
			missing = append(missing, key)
		}
		return v, ok
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", &MissingKeyError{Task: t.Name, Key: missing[0]}
	}
	return rendered, nil
}

// expand is os.Expand with a presence-aware mapper, so absent keys can be
// distinguished from keys mapped to the empty string.
func expand(s string, mapping func(string) (string, bool)) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '$' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '$' { // $$ escapes a literal dollar
			b.WriteByte('$')
			i++
			continue
		}
		name, width := parseVarName(s[i+1:])
		if width == 0 {
			b.WriteByte('$')
			continue
		}
		if v, ok := mapping(name); ok {
			b.WriteString(v)
		}
		i += width
	}
	return b.String()
}

// parseVarName reads ${name} or a bare identifier after a dollar sign,
// returning the name and the number of source bytes consumed.
func parseVarName(s string) (string, int) {
	if len(s) == 0 {
		return "", 0
	}
	if s[0] == '{' {
		end := strings.IndexByte(s, '}')
		if end < 0 {
			return "", 0
		}
		return s[1:end], end + 1
	}
	i := 0
	for i < len(s) && isIdentByte(s[i]) {
		i++
	}
	return s[:i], i
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
