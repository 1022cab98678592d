// Package segment splits article text into ordered segments for embedding.
package segment

import (
	"fmt"
	"sort"
	"strings"
)

// Segmenter turns text into an ordered sequence of non-empty segments.
type Segmenter interface {
	Split(text string) []string
}

// Options carries the tunables every strategy may read.
type Options struct {
	WindowSize int
	StepSize   int
	LineMode   LineMode
}

// DefaultOptions mirrors the shipped configuration.
func DefaultOptions() Options {
	return Options{WindowSize: DefaultWindowSize, StepSize: DefaultStepSize, LineMode: RemoveBlank}
}

type factory func(Options) (Segmenter, error)

var registry = map[string]factory{
	"sliding_window": newSlidingWindow,
	"slidingWindow":  newSlidingWindow,
	"line":           newLines,
	"row":            newLines,
}

// New resolves a strategy by name.
func New(name string, opts Options) (Segmenter, error) {
	f, ok := registry[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("unknown segmenter strategy %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return f(opts)
}

// Names lists the registered strategy names.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
