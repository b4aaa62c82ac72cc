// Package logging builds the package-level structured logger PBRB uses for
// its §6 observability lines: "[file:line @fn LEVEL] Thread:[tid] message".
package logging

import (
	"bytes"
	"os"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.SugaredLogger writing to stderr at the given level,
// using bracketEncoder below to reproduce the bracketed line shape.
func New(level zapcore.Level) *zap.SugaredLogger {
	enc := &bracketEncoder{Encoder: zapcore.NewConsoleEncoder(messageOnlyConfig())}
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(os.Stderr)), zap.NewAtomicLevelAt(level))
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return logger.Sugar()
}

// messageOnlyConfig leaves only the message key active on the wrapped
// console encoder; every other field (time, level, caller, name) is
// rendered by bracketEncoder's own prefix instead, so nothing is doubled.
func messageOnlyConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = ""
	cfg.LevelKey = ""
	cfg.CallerKey = ""
	cfg.NameKey = ""
	cfg.MessageKey = "msg"
	cfg.ConsoleSeparator = " "
	return cfg
}

// bracketEncoder wraps a console encoder (for message + structured field
// formatting) and prepends the "[file:line @fn LEVEL] Thread:[tid] "
// prefix to every line. Implementing zapcore.Encoder by delegating field
// methods to the embedded encoder and only overriding EncodeEntry/Clone
// is the usual shape for a custom line format on top of zap.
type bracketEncoder struct {
	zapcore.Encoder
}

func (e *bracketEncoder) Clone() zapcore.Encoder {
	return &bracketEncoder{Encoder: e.Encoder.Clone()}
}

func (e *bracketEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	body, err := e.Encoder.EncodeEntry(ent, fields)
	if err != nil {
		return nil, err
	}

	fn := "?"
	file := ent.Caller.TrimmedPath()
	line := ent.Caller.Line
	if ent.Caller.Defined {
		if f := runtime.FuncForPC(ent.Caller.PC); f != nil {
			fn = shortFuncName(f.Name())
		}
	}

	out := buffer.NewPool().Get()
	out.AppendString("[")
	out.AppendString(file)
	out.AppendString(":")
	out.AppendString(strconv.Itoa(line))
	out.AppendString(" @")
	out.AppendString(fn)
	out.AppendString(" ")
	out.AppendString(ent.Level.CapitalString())
	out.AppendString("] Thread:[")
	out.AppendString(strconv.Itoa(goroutineID()))
	out.AppendString("] ")
	out.Write(body.Bytes())
	body.Free()
	return out, nil
}

// shortFuncName trims a fully qualified runtime.FuncForPC name down to
// "Type.Method" / "function", dropping the module path prefix.
func shortFuncName(full string) string {
	if idx := strings.LastIndex(full, "/"); idx >= 0 {
		full = full[idx+1:]
	}
	if idx := strings.Index(full, "."); idx >= 0 {
		return full[idx+1:]
	}
	return full
}

// goroutineID scrapes the calling goroutine's id out of runtime.Stack.
// Go deliberately exposes no public API for this; every other field in
// the log line comes from zap/runtime.Caller, but this one is necessarily
// hand-rolled.
func goroutineID() int {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if idx := bytes.IndexByte(buf, ' '); idx >= 0 {
		buf = buf[:idx]
	}
	id, err := strconv.Atoi(string(buf))
	if err != nil {
		return -1
	}
	return id
}
