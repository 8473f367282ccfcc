// Package zap adapts go.uber.org/zap to the overlay's logger.Logger
// interface.
package zap

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"overlay/internal/domain"
	"overlay/internal/logger"
)

// ZapAdapter implements logger.Logger on top of a *zap.Logger.
type ZapAdapter struct {
	L *zap.Logger
}

// NewZapAdapter wraps l, skipping one extra caller frame so log sites report
// the caller of the logger.Logger method, not this adapter.
func NewZapAdapter(l *zap.Logger) *ZapAdapter {
	return &ZapAdapter{L: l.WithOptions(zap.AddCallerSkip(1))}
}

func toZap(fs []logger.Field) []zap.Field {
	out := make([]zap.Field, len(fs))
	for i, f := range fs {
		out[i] = zap.Any(f.Key, f.Val)
	}
	return out
}

func (z *ZapAdapter) Named(name string) logger.Logger {
	return &ZapAdapter{L: z.L.Named(name)}
}

func (z *ZapAdapter) With(fields ...logger.Field) logger.Logger {
	return &ZapAdapter{L: z.L.With(toZap(fields)...)}
}

func (z *ZapAdapter) WithNode(n domain.NodeInfo) logger.Logger {
	return z.With(logger.FNode("node", n))
}

func (z *ZapAdapter) log(level zapcore.Level, msg string, fields []logger.Field) {
	if ce := z.L.Check(level, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

func (z *ZapAdapter) Debug(msg string, fields ...logger.Field) { z.log(zapcore.DebugLevel, msg, fields) }
func (z *ZapAdapter) Info(msg string, fields ...logger.Field)  { z.log(zapcore.InfoLevel, msg, fields) }
func (z *ZapAdapter) Warn(msg string, fields ...logger.Field)  { z.log(zapcore.WarnLevel, msg, fields) }
func (z *ZapAdapter) Error(msg string, fields ...logger.Field) { z.log(zapcore.ErrorLevel, msg, fields) }
