package logger

import "dhtnode/internal/domain"

// Field represents a structured key:value log field.
type Field struct {
	Key string
	Val any
}

// Logger is the minimal structured-logging interface used across the node.
type Logger interface {
	Named(name string) Logger
	With(fields ...Field) Logger
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// F is a concise constructor for a Field.
func F(key string, val any) Field { return Field{Key: key, Val: val} }

// FNode serializes a domain.NodeRef into a readable structured field.
func FNode(key string, n domain.NodeRef) Field {
	return Field{
		Key: key,
		Val: map[string]any{
			"id":   n.ID.ToHexString(false),
			"addr": n.Addr,
		},
	}
}

// FRecord serializes a domain.StoredRecord into a readable structured field.
func FRecord(key string, r domain.StoredRecord) Field {
	return Field{
		Key: key,
		Val: map[string]any{
			"key":     r.Key.ToHexString(false),
			"ttl":     r.TTL.String(),
			"expires": r.ExpiresAt(),
		},
	}
}

// ----------------------------------------------------------------
// NopLogger is a no-op Logger implementation, useful for tests.
type NopLogger struct{}

func (l *NopLogger) Named(name string) Logger          { return l }
func (l *NopLogger) With(fields ...Field) Logger       { return l }
func (l *NopLogger) Debug(msg string, fields ...Field) {}
func (l *NopLogger) Info(msg string, fields ...Field)  {}
func (l *NopLogger) Warn(msg string, fields ...Field)  {}
func (l *NopLogger) Error(msg string, fields ...Field) {}
