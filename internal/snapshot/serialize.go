package snapshot

import (
	"strings"
	"unicode/utf8"
)

// fileSeparator joins serialized file sections.
const fileSeparator = "\n\n"

// Header returns the delimiter line that precedes a file's content.
func Header(path string) string {
	return "=== File: " + path + " ===\n"
}

// Serialize renders files into one document in snapshot order. Each file is
// written as its header line, its content and a trailing newline; sections
// are separated by a blank line.
func Serialize(files []File) string {
	var b strings.Builder
	for i, f := range files {
		if i > 0 {
			b.WriteString(fileSeparator)
		}
		b.WriteString(Header(f.Path))
		b.WriteString(f.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// TruncateText cuts s to at most maxChars characters.
func TruncateText(s string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}

// FitToCeiling trims the trailing portion of files so that Serialize of the
// result is at most maxChars characters. The last kept file may have its
// content shortened; files that no longer fit are dropped.
func FitToCeiling(files []File, maxChars int) []File {
	out := make([]File, 0, len(files))
	used := 0
	for i, f := range files {
		overhead := utf8.RuneCountInString(Header(f.Path)) + 1
		if i > 0 {
			overhead += len(fileSeparator)
		}
		contentLen := utf8.RuneCountInString(f.Content)
		if used+overhead+contentLen <= maxChars {
			out = append(out, f)
			used += overhead + contentLen
			continue
		}
		remaining := maxChars - used - overhead
		if remaining > 0 {
			out = append(out, NewFile(f.Path, TruncateText(f.Content, remaining)))
		}
		break
	}
	return out
}
