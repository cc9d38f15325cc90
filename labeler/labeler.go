// Package labeler turns task text into a one-word category label.
//
// Generators make a single attempt without their own timeout; callers decide
// whether to retry, bound the call through ctx, or fall back to a default.
package labeler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	log "github.com/sirupsen/logrus"

	"tasksync/domain"
)

// Generator produces a label for text or fails with
// domain.ErrLabelGenerationFailed.
type Generator interface {
	Generate(ctx context.Context, text string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, text string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Policy selects what the task-creation flow does when labeling fails.
type Policy int

const (
	// FallbackLabel adds the task with domain.DefaultLabel.
	FallbackLabel Policy = iota
	// RequireLabel aborts the add.
	RequireLabel
)

// ParsePolicy accepts "fallback" and "require".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fallback":
		return FallbackLabel, nil
	case "require":
		return RequireLabel, nil
	}
	return FallbackLabel, fmt.Errorf("unknown label policy %q", s)
}

const maxLabelRunes = 32

// Sanitize reduces model output to a single short word. An empty result is a
// generation failure.
func Sanitize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	if s == "" {
		return "", fmt.Errorf("%w: empty label", domain.ErrLabelGenerationFailed)
	}
	if r := []rune(s); len(r) > maxLabelRunes {
		s = string(r[:maxLabelRunes])
	}
	return s, nil
}

// Resolve labels text with gen. With FallbackLabel a failure yields
// domain.DefaultLabel and a nil error; cancellation is always returned.
func Resolve(ctx context.Context, gen Generator, text string, p Policy) (string, error) {
	if gen == nil {
		if p == RequireLabel {
			return "", fmt.Errorf("%w: no generator configured", domain.ErrLabelGenerationFailed)
		}
		return domain.DefaultLabel, nil
	}
	label, err := gen.Generate(ctx, text)
	if err == nil {
		label, err = Sanitize(label)
	}
	if err == nil {
		return label, nil
	}
	if errors.Is(err, context.Canceled) || p == RequireLabel {
		return "", err
	}
	log.WithError(err).Warn("Label generation failed, using fallback")
	return domain.DefaultLabel, nil
}
