package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// parseLevel maps a config string to a slog level, defaulting to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger installs the process-wide slog default from the logging config.
// format "json" selects the JSON handler for production scraping; anything
// else gets the text handler for local reading. Source locations are attached
// only at debug level since resolving them costs a stack walk per record.
//
// Installing the default means the rest of the codebase logs through plain
// slog.Info/Warn/Error without threading a *slog.Logger around.
func SetupLogger(format, level string) {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}
