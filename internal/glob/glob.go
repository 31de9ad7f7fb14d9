// Package glob implements the shell-style pattern matching spec.md §4.5's
// keys(pattern) calls for: '*' matches any run of characters, '?' matches
// exactly one, and '[...]' matches a character class. Keys are opaque
// strings, not filesystem paths, so unlike path/filepath.Match a '*' here
// also matches '/' — this mirrors fdb_server.py's use of Python's
// fnmatch.fnmatch (original_source/fdb_server.py), which has no notion of a
// path separator either.
package glob

import (
	"regexp"
	"strings"
	"sync"
)

var (
	cacheMu sync.Mutex
	cache   = make(map[string]*regexp.Regexp)
)

// Match reports whether name matches pattern.
func Match(pattern, name string) (bool, error) {
	re, err := compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(name), nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	cacheMu.Lock()
	if re, ok := cache[pattern]; ok {
		cacheMu.Unlock()
		return re, nil
	}
	cacheMu.Unlock()

	re, err := regexp.Compile(translate(pattern))
	if err != nil {
		return nil, err
	}

	cacheMu.Lock()
	cache[pattern] = re
	cacheMu.Unlock()
	return re, nil
}

// translate converts a shell glob into an anchored regexp, treating the
// input as one opaque string with no path-separator significance.
func translate(pattern string) string {
	var sb strings.Builder
	sb.WriteString("^")

	i, n := 0, len(pattern)
	for i < n {
		c := pattern[i]
		switch c {
		case '*':
			sb.WriteString(".*")
			i++
		case '?':
			sb.WriteString(".")
			i++
		case '[':
			j := i + 1
			if j < n && (pattern[j] == '!' || pattern[j] == '^') {
				j++
			}
			if j < n && pattern[j] == ']' {
				j++
			}
			for j < n && pattern[j] != ']' {
				j++
			}
			if j >= n {
				// Unterminated class: treat '[' as a literal, per fnmatch.
				sb.WriteString(regexp.QuoteMeta("["))
				i++
				continue
			}
			class := pattern[i+1 : j]
			if len(class) > 0 && class[0] == '!' {
				class = "^" + class[1:]
			}
			sb.WriteString("[" + class + "]")
			i = j + 1
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}

	sb.WriteString("$")
	return sb.String()
}
