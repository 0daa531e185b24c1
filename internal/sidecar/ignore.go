package sidecar

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreList holds the dataset's validator ignore patterns.
type IgnoreList struct {
	lines []string
}

// LoadIgnoreList reads an ignore file; a missing file is an empty list.
func LoadIgnoreList(path string) (*IgnoreList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &IgnoreList{}, nil
		}
		return nil, err
	}
	l := &IgnoreList{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		l.lines = append(l.lines, line)
	}
	return l, nil
}

// Patterns returns the non-comment entries.
func (l *IgnoreList) Patterns() []string {
	var out []string
	for _, line := range l.lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "#") {
			out = append(out, strings.TrimSpace(line))
		}
	}
	return out
}

// Ensure appends missing patterns and reports whether any were added.
func (l *IgnoreList) Ensure(patterns ...string) bool {
	have := map[string]struct{}{}
	for _, p := range l.Patterns() {
		have[p] = struct{}{}
	}
	added := false
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := have[p]; ok {
			continue
		}
		have[p] = struct{}{}
		l.lines = append(l.lines, p)
		added = true
	}
	return added
}

// Match reports whether a dataset-relative path is ignored.
func (l *IgnoreList) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range l.Patterns() {
		if strings.HasSuffix(p, "/") {
			prefix := strings.TrimPrefix(p, "/")
			if strings.HasPrefix(rel+"/", prefix) {
				return true
			}
			continue
		}
		if MatchGlob(strings.TrimPrefix(p, "/"), rel) {
			return true
		}
	}
	return false
}

// Encode renders the list, one pattern per line.
func (l *IgnoreList) Encode() []byte {
	var buf bytes.Buffer
	for _, line := range l.lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// MatchGlob checks if a slash-separated path matches a glob pattern.
// Supports *, ? and ** patterns.
func MatchGlob(pattern, path string) bool {
	if strings.Contains(pattern, "**") {
		return matchParts(splitSlash(pattern), splitSlash(path))
	}
	matched, err := filepath.Match(pattern, path)
	return err == nil && matched
}

func matchParts(patternParts, pathParts []string) bool {
	if len(patternParts) == 0 {
		return len(pathParts) == 0
	}
	if len(pathParts) == 0 {
		for _, p := range patternParts {
			if p != "**" {
				return false
			}
		}
		return true
	}
	if patternParts[0] == "**" {
		return matchParts(patternParts[1:], pathParts) ||
			matchParts(patternParts, pathParts[1:])
	}
	matched, err := filepath.Match(patternParts[0], pathParts[0])
	if err != nil || !matched {
		return false
	}
	return matchParts(patternParts[1:], pathParts[1:])
}

func splitSlash(p string) []string {
	var out []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
