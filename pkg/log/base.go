package log

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *BaseLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *BaseLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

// Fatal logs at FatalLevel, closes outputs and exits the process.
func (l *BaseLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields)
	l.state.mu.RLock()
	outputs, exit := l.state.outputs, l.state.exit
	l.state.mu.RUnlock()
	for _, o := range outputs {
		_ = o.Close()
	}
	exit(1)
}

func (l *BaseLogger) Debugf(msg string, args ...interface{}) {
	l.log(DebugLevel, fmt.Sprintf(msg, args...), nil)
}
func (l *BaseLogger) Infof(msg string, args ...interface{}) {
	l.log(InfoLevel, fmt.Sprintf(msg, args...), nil)
}
func (l *BaseLogger) Warnf(msg string, args ...interface{}) {
	l.log(WarnLevel, fmt.Sprintf(msg, args...), nil)
}
func (l *BaseLogger) Errorf(msg string, args ...interface{}) {
	l.log(ErrorLevel, fmt.Sprintf(msg, args...), nil)
}

// With returns a child logger carrying the given fields on every entry.
func (l *BaseLogger) With(fields ...Field) Logger {
	attrs := attrsFromFields(fields)
	if len(attrs) == 0 {
		return l
	}
	args := make([]any, len(attrs))
	for i := range attrs {
		args[i] = attrs[i]
	}
	return &BaseLogger{state: l.state, slogLogger: l.slogLogger.With(args...)}
}

func (l *BaseLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.With(Err(err))
}

// WithContext copies known context values (run ID, component, operation) into fields.
func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}
	var fields []Field
	for _, k := range []string{RunIDKey, ComponentKey, OperationKey} {
		if v := ctx.Value(ctxKey(k)); v != nil {
			fields = append(fields, Any(k, v))
		}
	}
	return l.With(fields...)
}

func (l *BaseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

func (l *BaseLogger) SetLevel(level Level) {
	l.state.mu.Lock()
	l.state.level = level
	l.state.mu.Unlock()
}

func (l *BaseLogger) GetLevel() Level { return l.state.getLevel() }

func (l *BaseLogger) log(level Level, msg string, fields []Field) {
	ctx := context.Background()
	h := l.slogLogger.Handler()
	sl := toSlogLevel(level)
	if !h.Enabled(ctx, sl) {
		return
	}
	// skip runtime.Callers, log and the exported method
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), sl, msg, pcs[0])
	r.AddAttrs(attrsFromFields(fields)...)
	_ = h.Handle(ctx, r)
}
