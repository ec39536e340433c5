package utils

import (
	"strings"
	"time"
)

func ContainsString(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}

func UniqueStrings(input []string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, val := range input {
		if !seen[val] {
			result = append(result, val)
			seen[val] = true
		}
	}
	return result
}

func Retry(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		time.Sleep(delay)
	}
	return err
}

// NormalizeSubreddit canonicalizes a subreddit name: trimmed, lowercased,
// with any "r/" or "/r/" prefix removed.
func NormalizeSubreddit(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimPrefix(s, "/")
	s = strings.TrimPrefix(s, "r/")
	return s
}

// NormalizeSubreddits canonicalizes every name and drops empties and duplicates,
// preserving first-seen order.
func NormalizeSubreddits(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if s := NormalizeSubreddit(n); s != "" {
			out = append(out, s)
		}
	}
	return UniqueStrings(out)
}

// RemoveString returns a copy of the slice without any occurrence of val.
func RemoveString(slice []string, val string) []string {
	out := make([]string, 0, len(slice))
	for _, s := range slice {
		if s != val {
			out = append(out, s)
		}
	}
	return out
}

// AuthorOrDeleted returns the author name, or Reddit's tombstone for missing authors.
func AuthorOrDeleted(author string) string {
	if strings.TrimSpace(author) == "" {
		return "[deleted]"
	}
	return author
}

// TruncateString caps a string at max runes; used to keep error messages bounded.
func TruncateString(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// StripPrefix removes Reddit's "t1_" or "t3_" prefixes from comment and post IDs.
func StripPrefix(id string) string {
	if strings.HasPrefix(id, "t1_") || strings.HasPrefix(id, "t3_") {
		return id[3:]
	}
	return id
}
