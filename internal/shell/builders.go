// Package shell formats POSIX-portable command strings: the glob and grep
// primitives agent tools expose, and the cwd/env prefix both executors
// prepend to user commands.
package shell

import (
	"fmt"
	"sort"
	"strings"
)

// Quote single-quotes s for safe interpolation into a shell command.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// GlobToFind renders a glob lookup as a find invocation. Patterns with a
// path separator match against the whole path; bare patterns match names.
func GlobToFind(pattern, root string) string {
	if root == "" {
		root = "."
	}
	match := "-name"
	if strings.Contains(pattern, "/") {
		match = "-path"
	}
	return fmt.Sprintf("find %s %s %s -type f 2>/dev/null | head -100",
		Quote(root), match, Quote(pattern))
}

// GrepWithContext renders a recursive grep with n lines of context.
func GrepWithContext(pattern, path string, contextLines int) string {
	if path == "" {
		path = "."
	}
	if contextLines < 0 {
		contextLines = 0
	}
	return fmt.Sprintf("grep -rn -C %d -- %s %s 2>/dev/null | head -200",
		contextLines, Quote(pattern), Quote(path))
}

// Prefixed wraps a command with an optional working-directory change and
// environment exports, keeping everything inside one sh -c string so the
// remote client can hand it to a single exec.
func Prefixed(command, cwd string, env map[string]string) string {
	var parts []string
	if cwd != "" {
		parts = append(parts, "cd "+Quote(cwd))
	}
	if len(env) > 0 {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("export %s=%s", k, Quote(env[k])))
		}
	}
	parts = append(parts, command)
	return strings.Join(parts, " && ")
}
