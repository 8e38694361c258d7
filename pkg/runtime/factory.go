package runtime

import (
	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
)

// ContextFactory creates execution contexts with the runtime's defaults
// applied.
type ContextFactory struct {
	defaultLocale string
	logger        zerolog.Logger
}

// NewContextFactory creates a factory. An empty defaultLocale falls back
// to the package-level default.
func NewContextFactory(defaultLocale string, logger zerolog.Logger) *ContextFactory {
	if defaultLocale == "" {
		defaultLocale = core.DefaultLocale
	}
	return &ContextFactory{
		defaultLocale: defaultLocale,
		logger:        logger.With().Str("component", "runtime.context").Logger(),
	}
}

// Create builds a context, filling the locale from the runtime default
// when the caller leaves it empty.
func (f *ContextFactory) Create(params core.ContextParams) (*core.ExecutionContext, error) {
	if params.Locale == "" {
		params.Locale = f.defaultLocale
	}
	ec, err := core.NewExecutionContext(params)
	if err != nil {
		return nil, err
	}
	f.logger.Debug().
		Str("run_id", ec.RunID()).
		Str("initiator", ec.Initiator()).
		Msg("execution context created")
	return ec, nil
}
