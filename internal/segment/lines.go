package segment

import (
	"fmt"
	"regexp"
	"strings"
)

// LineMode controls which lines SplitLines keeps.
type LineMode string

const (
	IncludeEmpty LineMode = "include_empty"
	RemoveEmpty  LineMode = "remove_empty"
	// TrimEmpty drops empty lines before the first and after the last non-empty line.
	TrimEmpty LineMode = "trim_empty"
	// RemoveBlank drops lines made only of whitespace.
	RemoveBlank LineMode = "remove_blank"
)

const (
	CRLF = "\r\n"
	LF   = "\n"
	CR   = "\r"
)

var lineBreak = regexp.MustCompile(`\r\n|\n|\r`)

// ParseLineMode maps a configuration value to a LineMode.
func ParseLineMode(s string) (LineMode, error) {
	switch m := LineMode(strings.ToLower(strings.TrimSpace(s))); m {
	case IncludeEmpty, RemoveEmpty, TrimEmpty, RemoveBlank:
		return m, nil
	case "":
		return RemoveBlank, nil
	default:
		return "", fmt.Errorf("unknown line mode %q", s)
	}
}

// SplitLines splits on CR, LF and CRLF. With IncludeEmpty the result joined
// by DetectSeparator(text) reproduces text exactly for uniformly separated input.
func SplitLines(text string, mode LineMode) []string {
	if text == "" {
		return []string{}
	}
	lines := lineBreak.Split(text, -1)
	switch mode {
	case RemoveEmpty:
		return filterLines(lines, func(l string) bool { return l != "" })
	case RemoveBlank:
		return filterLines(lines, func(l string) bool { return strings.TrimSpace(l) != "" })
	case TrimEmpty:
		first, last := 0, len(lines)-1
		for first <= last && lines[first] == "" {
			first++
		}
		for last >= first && lines[last] == "" {
			last--
		}
		return append([]string{}, lines[first:last+1]...)
	default:
		return lines
	}
}

func filterLines(lines []string, keep func(string) bool) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if keep(l) {
			out = append(out, l)
		}
	}
	return out
}

// DetectSeparator reports the line separator used by text: CRLF if present,
// else LF, else CR. Text without any break reports LF.
func DetectSeparator(text string) string {
	switch {
	case strings.Contains(text, CRLF):
		return CRLF
	case strings.Contains(text, LF):
		return LF
	case strings.Contains(text, CR):
		return CR
	default:
		return LF
	}
}

// JoinLines is the inverse of SplitLines with IncludeEmpty.
func JoinLines(lines []string, sep string) string {
	return strings.Join(lines, sep)
}

// Lines segments text one line per segment.
type Lines struct {
	Mode LineMode
}

func newLines(opts Options) (Segmenter, error) {
	mode := opts.LineMode
	if mode == "" {
		mode = RemoveBlank
	}
	if _, err := ParseLineMode(string(mode)); err != nil {
		return nil, err
	}
	return Lines{Mode: mode}, nil
}

// Split implements Segmenter. Empty lines never become segments, whatever the mode.
func (l Lines) Split(text string) []string {
	return filterLines(SplitLines(text, l.Mode), func(s string) bool { return s != "" })
}
