// Package logger builds configured slog.Logger instances so every component
// of the service logs through the same structured pipeline.
//
//	log := logger.New(
//	    logger.WithFormat(logger.FormatJSON),
//	    logger.WithLevel(slog.LevelInfo),
//	    logger.WithAttrs(slog.String("service", "anonid")),
//	)
package logger
