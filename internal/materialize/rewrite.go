package materialize

import (
	"os"
	"strings"
)

// RewriteKey replaces the first line setting key with "key<sep>value", or
// appends it when no such line exists. Comment and blank lines are never
// matched. Applying the same rewrite twice yields the same content.
func RewriteKey(content, key, value string, format Format, commentPrefix string) string {
	newLine := key + format.Separator() + value
	lines := splitLines(content)

	for i, line := range lines {
		if lineKey(line, commentPrefix) == key {
			lines[i] = newLine
			return joinLines(lines)
		}
	}
	return joinLines(append(lines, newLine))
}

// HasLine reports whether content contains line exactly, ignoring
// surrounding whitespace.
func HasLine(content, line string) bool {
	for _, l := range splitLines(content) {
		if strings.TrimSpace(l) == line {
			return true
		}
	}
	return false
}

// LookupKey returns the value of the first line setting key.
func LookupKey(content, key string, format Format, commentPrefix string) (string, bool) {
	for _, line := range splitLines(content) {
		if lineKey(line, commentPrefix) != key {
			continue
		}
		value := strings.TrimSpace(line[len(key):])
		if format == FormatEquals {
			value = strings.TrimSpace(strings.TrimPrefix(value, "="))
		}
		return value, true
	}
	return "", false
}

// lineKey returns the key a config line sets, or "" for comments, blank
// lines and indented lines. Indented lines belong to a block and never set
// a top-level key.
func lineKey(line, commentPrefix string) string {
	if line == "" || strings.HasPrefix(line, commentPrefix) {
		return ""
	}
	if line[0] == ' ' || line[0] == '\t' {
		return ""
	}
	line = strings.TrimRight(line, " \t\r")
	end := strings.IndexAny(line, " \t=")
	if end < 0 {
		return line
	}
	return line[:end]
}

func splitLines(content string) []string {
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n") + "\n"
}

// rewriteFile applies fn to the file content and writes it back in place
// when it changed, keeping mode and ownership.
func rewriteFile(path string, fn func(string) string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	updated := fn(string(data))
	if updated == string(data) {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(updated), info.Mode().Perm())
}
