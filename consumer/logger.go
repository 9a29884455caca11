// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package consumer

import "go.uber.org/zap"

// LoggerFunc is a pluggable callback for error reporting, kept from the
// package's original dispatcher so callers can inject zap, logrus,
// zerolog, or anything else by passing a closure.
type LoggerFunc func(error)

// NewZapLogger adapts a *zap.Logger to LoggerFunc. It is the default used
// when a Consumer is built without an explicit logger: the decode-failure
// and listener-panic paths (spec.md §4.4, §7) log through it rather than
// propagating to the application.
func NewZapLogger(l *zap.Logger) LoggerFunc {
	if l == nil {
		l = zap.NewNop()
	}

	sugar := l.Sugar()

	return func(err error) {
		if err == nil {
			return
		}

		sugar.Errorw("consumer error", "error", err)
	}
}

func defaultLogger() LoggerFunc {
	return NewZapLogger(zap.NewNop())
}
