package slogutil

import (
	"io"
	"log/slog"
)

// Options describes where and how verbosely a command logs.
type Options struct {
	// Console receives records at ConsoleLevel; usually os.Stderr.
	Console      io.Writer
	ConsoleLevel slog.Level

	// File, when set, also receives records at FileLevel, rotated at
	// MaxSize ("10MB") keeping MaxBackups old files.
	File       string
	FileLevel  slog.Level
	MaxSize    string
	MaxBackups int
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup builds the process logger. The returned closer releases the log
// file, if any, and is always non-nil.
func Setup(opts Options) (*slog.Logger, io.Closer, error) {
	console := opts.Console
	if console == nil {
		console = io.Discard
	}
	consoleHandler := NewLineHandler(console, &slog.HandlerOptions{Level: opts.ConsoleLevel})
	if opts.File == "" {
		return slog.New(consoleHandler), nopCloser{}, nil
	}

	fileLogger, closer, err := NewFileLoggerWithRotation(opts.File, opts.FileLevel, opts.MaxSize, opts.MaxBackups)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(NewTeeHandler(consoleHandler, fileLogger.Handler())), closer, nil
}
