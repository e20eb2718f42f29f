package main

import (
	"log/slog"
	"os"

	"github.com/k2rebuild/k2rebuild/cmd/k2rebuild/commands"
)

func main() {
	// Logs go to stderr so command output stays pipeable.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
