package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"

	"snipbridge/internal/config"
)

var logOutput io.Writer = os.Stderr

func newLogger(output io.Writer, cfg config.Config) *slog.Logger {
	handler := tint.NewHandler(output, &tint.Options{
		Level:      cfg.LogLevel(),
		TimeFormat: "2006-01-02 15:04:05.000Z07:00",
		NoColor:    cfg.Log.NoColor,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindAny {
				if _, ok := a.Value.Any().(error); ok {
					return tint.Attr(9, a)
				}
			}
			return a
		},
	})
	return slog.New(handler)
}
