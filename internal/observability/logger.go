package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger tags the global logger with the app and endpoint names and
// returns it. Output format and level come from the logging package.
func InitLogger(app, endpoint string) zerolog.Logger {
	logger := Tag(log.Logger, app, endpoint)
	log.Logger = logger
	return logger
}

func Tag(base zerolog.Logger, app, endpoint string) zerolog.Logger {
	ctx := base.With().Str("app", app)
	if endpoint != "" {
		ctx = ctx.Str("endpoint", endpoint)
	}
	return ctx.Logger()
}
