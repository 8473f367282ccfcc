// Package logger defines the minimal structured logging interface used
// throughout the overlay, independent of the concrete backend (see
// internal/logger/zap for the production implementation).
package logger

import "overlay/internal/domain"

// Field is a structured key:value pair.
type Field struct {
	Key string
	Val any
}

// F is a concise constructor for Field.
func F(key string, val any) Field { return Field{Key: key, Val: val} }

// FNode serializes a domain.NodeInfo into a readable structured field.
func FNode(key string, n domain.NodeInfo) Field {
	return Field{
		Key: key,
		Val: map[string]any{
			"uuid":  n.UUID.String(),
			"addr":  n.Physical.String(),
			"level": n.Logical.Level,
			"num":   n.Logical.Number,
		},
	}
}

// Logger is the minimal interface every internal package depends on.
type Logger interface {
	Named(name string) Logger
	With(fields ...Field) Logger
	WithNode(n domain.NodeInfo) Logger
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// NopLogger discards everything; used in tests.
type NopLogger struct{}

func (l NopLogger) Named(string) Logger                 { return l }
func (l NopLogger) With(...Field) Logger                 { return l }
func (l NopLogger) WithNode(domain.NodeInfo) Logger      { return l }
func (l NopLogger) Debug(string, ...Field)               {}
func (l NopLogger) Info(string, ...Field)                {}
func (l NopLogger) Warn(string, ...Field)                {}
func (l NopLogger) Error(string, ...Field)               {}
