// Package log provides the leveled, structured logger used throughout
// kawpowd. It follows go-ethereum's log package conventions: a small set
// of levels, key/value pairs appended after a message, and a colorized
// terminal format when stderr is a TTY.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is a logging level.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

var levelColor = map[Lvl]*color.Color{
	LvlCrit:  color.New(color.FgMagenta, color.Bold),
	LvlError: color.New(color.FgRed),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
	LvlTrace: color.New(color.FgWhite),
}

// ParseLvl parses a level name, defaulting to LvlInfo on failure.
func ParseLvl(s string) Lvl {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "crit", "fatal":
		return LvlCrit
	case "error", "err":
		return LvlError
	case "warn", "warning":
		return LvlWarn
	case "debug":
		return LvlDebug
	case "trace":
		return LvlTrace
	default:
		return LvlInfo
	}
}

// Logger writes leveled, structured records to an underlying writer.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	minLvl   Lvl
	colorize bool
	ctx      []interface{}
}

var root = New(os.Stderr, levelFromEnv())

func levelFromEnv() Lvl {
	return ParseLvl(os.Getenv("KAWPOWD_LOG"))
}

// New constructs a Logger writing to w, filtering below minLvl.
func New(w io.Writer, minLvl Lvl) *Logger {
	colorize := false
	if f, ok := w.(*os.File); ok {
		colorize = isatty.IsTerminal(f.Fd())
		if colorize {
			w = colorable.NewColorable(f)
		}
	}
	return &Logger{out: w, minLvl: minLvl, colorize: colorize}
}

// Root returns the process-wide default logger. It is a plain value, not a
// hidden singleton the rest of the program reaches into implicitly — see
// New() for constructing independent loggers (e.g. one per test).
func Root() *Logger { return root }

// With returns a child logger that always includes the given key/value
// pairs in addition to whatever is passed to each call.
func (l *Logger) With(ctx ...interface{}) *Logger {
	nctx := make([]interface{}, 0, len(l.ctx)+len(ctx))
	nctx = append(nctx, l.ctx...)
	nctx = append(nctx, ctx...)
	return &Logger{out: l.out, minLvl: l.minLvl, colorize: l.colorize, ctx: nctx}
}

func (l *Logger) log(lvl Lvl, msg string, kv []interface{}) {
	if lvl > l.minLvl {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("2006-01-02T15:04:05.000")
	var b strings.Builder
	if l.colorize {
		c := levelColor[lvl]
		b.WriteString(c.Sprintf("%-5s", lvl.String()))
	} else {
		fmt.Fprintf(&b, "%-5s", lvl.String())
	}
	fmt.Fprintf(&b, " [%s] %s", ts, msg)

	all := make([]interface{}, 0, len(l.ctx)+len(kv))
	all = append(all, l.ctx...)
	all = append(all, kv...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
	}
	if lvl == LvlDebug || lvl == LvlTrace {
		if s := stack.Caller(2); s != nil {
			fmt.Fprintf(&b, " caller=%+v", s)
		}
	}
	b.WriteByte('\n')
	io.WriteString(l.out, b.String())
}

func (l *Logger) Crit(msg string, kv ...interface{})  { l.log(LvlCrit, msg, kv) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.log(LvlError, msg, kv) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.log(LvlWarn, msg, kv) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.log(LvlInfo, msg, kv) }
func (l *Logger) Debug(msg string, kv ...interface{}) { l.log(LvlDebug, msg, kv) }
func (l *Logger) Trace(msg string, kv ...interface{}) { l.log(LvlTrace, msg, kv) }

// TraceDump renders v with spew at Trace level, for the rare case a
// structured dump of a whole object is more useful than key/value pairs.
func (l *Logger) TraceDump(msg string, v interface{}) {
	if l.minLvl < LvlTrace {
		return
	}
	l.Trace(msg, "dump", spew.Sdump(v))
}

// SetLevel adjusts the minimum level filtered by this logger.
func (l *Logger) SetLevel(lvl Lvl) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLvl = lvl
}

func Crit(msg string, kv ...interface{})  { root.Crit(msg, kv...) }
func Error(msg string, kv ...interface{}) { root.Error(msg, kv...) }
func Warn(msg string, kv ...interface{})  { root.Warn(msg, kv...) }
func Info(msg string, kv ...interface{})  { root.Info(msg, kv...) }
func Debug(msg string, kv ...interface{}) { root.Debug(msg, kv...) }
func Trace(msg string, kv ...interface{}) { root.Trace(msg, kv...) }
