// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package logging builds the si7021mon logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// New returns a tint logger on stderr. Colors are used only on a terminal.
func New(level slog.Level) *slog.Logger {
	color := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	return NewWriter(colorable.NewColorableStderr(), level, !color)
}

// NewWriter returns a tint logger writing to w.
func NewWriter(w io.Writer, level slog.Level, noColor bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	}))
}
