package segment

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	DefaultWindowSize = 400
	DefaultStepSize   = 300
)

var whitespaceRun = regexp.MustCompile(`[\s\v]+`)

// SlidingWindow cuts normalized text into fixed-size windows that overlap by
// WindowSize-StepSize runes.
type SlidingWindow struct {
	WindowSize int
	StepSize   int
}

func newSlidingWindow(opts Options) (Segmenter, error) {
	w := SlidingWindow{WindowSize: opts.WindowSize, StepSize: opts.StepSize}
	if w.WindowSize == 0 && w.StepSize == 0 {
		w.WindowSize, w.StepSize = DefaultWindowSize, DefaultStepSize
	}
	if w.WindowSize <= 0 || w.StepSize <= 0 || w.StepSize > w.WindowSize {
		return nil, fmt.Errorf("sliding window: step %d must be within (0, %d]", w.StepSize, w.WindowSize)
	}
	return w, nil
}

// Normalize collapses whitespace runs to a single space and trims the ends.
func Normalize(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

// Split implements Segmenter.
func (w SlidingWindow) Split(text string) []string {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}
	runes := []rune(normalized)
	if len(runes) <= w.WindowSize {
		return []string{normalized}
	}

	var out []string
	for start := 0; start < len(runes); start += w.StepSize {
		end := start + w.WindowSize
		if end > len(runes) {
			end = len(runes)
		}
		if seg := strings.TrimSpace(string(runes[start:end])); seg != "" {
			out = append(out, seg)
		}
		if end >= len(runes) {
			break
		}
	}
	return out
}
