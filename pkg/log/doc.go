/*
Package log provides structured logging for granary using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. The level and console time format come from the
REGISTRY_LOG_LEVEL and REGISTRY_LOG_DATE_TIME_FORMAT environment variables via
pkg/config.

# Usage

Initialize once at startup:

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: true,
	})

Component loggers:

	logger := log.WithComponent("index")
	logger.Info().Str("crate", name).Msg("committed index record")

Publish-path loggers carry the crate context:

	logger := log.WithCrate("serde", "1.0.0")
	logger.Warn().Msg("docs job retried")

# See Also

  - pkg/config for the environment variables feeding Init
*/
package log
