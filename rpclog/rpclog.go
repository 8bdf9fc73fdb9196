// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package rpclog provides the small structured-logging facade used by
// remote and the example command. It wraps *zap.Logger and defaults to a
// no-op logger so library consumers pay nothing unless they opt in.
package rpclog

import "go.uber.org/zap"

// Logger is a thin, subsystem-tagged wrapper around *zap.Logger.
type Logger struct {
	z *zap.Logger
}

// Nop returns a Logger that discards everything.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// New wraps an existing *zap.Logger. A nil z behaves like Nop.
func New(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// WithSubsystem returns a child logger tagged with subsystem, mirroring
// the reference Stream implementation's logger.WithSubsystem("rpc").
func (l *Logger) WithSubsystem(name string) *Logger {
	return &Logger{z: l.z.With(zap.String("subsystem", name))}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }
