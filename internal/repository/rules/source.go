package rules

import (
	"context"
	"errors"

	"github.com/oshokin/alarm-pipeline/internal/domain/rule"
)

// ErrNotFound is returned when the rule store does not exist yet.
var ErrNotFound = errors.New("rules not found")

// Source loads the full rule set.
type Source interface {
	Load(ctx context.Context) ([]rule.Rule, error)
}

// WithDefaults returns a Source that falls back to the built-in rule set when
// the wrapped source is missing or empty.
func WithDefaults(src Source) Source {
	return defaultsSource{src: src}
}

type defaultsSource struct {
	src Source
}

func (s defaultsSource) Load(ctx context.Context) ([]rule.Rule, error) {
	rules, err := s.src.Load(ctx)

	switch {
	case errors.Is(err, ErrNotFound):
		return rule.Defaults(), nil
	case err != nil:
		return nil, err
	case len(rules) == 0:
		return rule.Defaults(), nil
	default:
		return rules, nil
	}
}
