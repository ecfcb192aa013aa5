// Package logger contains a logger implementation.
package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gookit/color"
)

// Logger is a log handler.
type Logger struct {
	Level        Level
	Destinations []Destination
	Structured   bool
	File         string
	SysLogPrefix string

	timeNow      func() time.Time
	stdout       io.Writer
	destinations []destination
	mutex        sync.Mutex
}

// Initialize initializes Logger.
func (lh *Logger) Initialize() error {
	if lh.Level == 0 {
		lh.Level = Info
	}
	if lh.timeNow == nil {
		lh.timeNow = time.Now
	}
	if lh.stdout == nil {
		lh.stdout = os.Stdout
	}
	if lh.SysLogPrefix == "" {
		lh.SysLogPrefix = "haishin"
	}

	for _, destType := range lh.Destinations {
		switch destType {
		case DestinationStdout:
			lh.destinations = append(lh.destinations, newDestinationStdout(lh.stdout, lh.Structured))

		case DestinationFile:
			dest, err := newDestinationFile(lh.File, lh.Structured)
			if err != nil {
				lh.Close()
				return err
			}
			lh.destinations = append(lh.destinations, dest)

		case DestinationSyslog:
			dest, err := newDestinationSyslog(lh.SysLogPrefix, lh.Structured)
			if err != nil {
				lh.Close()
				return err
			}
			lh.destinations = append(lh.destinations, dest)
		}
	}

	return nil
}

// Close closes a log handler.
func (lh *Logger) Close() {
	for _, dest := range lh.destinations {
		dest.close()
	}
}

// https://golang.org/src/log/log.go#L78
func itoa(i int, wid int) []byte {
	// Assemble decimal in reverse order.
	var b [20]byte
	bp := len(b) - 1
	for i >= 10 || wid > 1 {
		wid--
		q := i / 10
		b[bp] = byte('0' + i - q*10)
		bp--
		i = q
	}
	// i < 10
	b[bp] = byte('0' + i)
	return b[bp:]
}

func writePlainTime(buf *bytes.Buffer, t time.Time, useColor bool) {
	var intbuf bytes.Buffer

	// date
	year, month, day := t.Date()
	intbuf.Write(itoa(year, 4))
	intbuf.WriteByte('/')
	intbuf.Write(itoa(int(month), 2))
	intbuf.WriteByte('/')
	intbuf.Write(itoa(day, 2))
	intbuf.WriteByte(' ')

	// time
	hour, minute, sec := t.Clock()
	intbuf.Write(itoa(hour, 2))
	intbuf.WriteByte(':')
	intbuf.Write(itoa(minute, 2))
	intbuf.WriteByte(':')
	intbuf.Write(itoa(sec, 2))
	intbuf.WriteByte(' ')

	if useColor {
		buf.WriteString(color.RenderString(color.Gray.Code(), intbuf.String()))
	} else {
		buf.WriteString(intbuf.String())
	}
}

func levelCode(level Level) string {
	switch level {
	case Debug:
		return "DEB"
	case Info:
		return "INF"
	case Warn:
		return "WAR"
	}
	return "ERR"
}

func writePlainLevel(buf *bytes.Buffer, level Level, useColor bool) {
	code := levelCode(level)

	if useColor {
		switch level {
		case Debug:
			code = color.RenderString(color.Debug.Code(), code)
		case Info:
			code = color.RenderString(color.Green.Code(), code)
		case Warn:
			code = color.RenderString(color.Warn.Code(), code)
		case Error:
			code = color.RenderString(color.Error.Code(), code)
		}
	}

	buf.WriteString(code)
	buf.WriteByte(' ')
}

func writePlainContent(buf *bytes.Buffer, format string, args []interface{}) {
	fmt.Fprintf(buf, format, args...)
	buf.WriteByte('\n')
}

func writeStructured(buf *bytes.Buffer, t time.Time, level Level, format string, args []interface{}) {
	buf.WriteString(`{"timestamp":"`)
	buf.WriteString(t.Format(time.RFC3339Nano))
	buf.WriteString(`","level":"`)
	buf.WriteString(levelCode(level))
	buf.WriteString(`","message":`)
	msg, _ := json.Marshal(fmt.Sprintf(format, args...))
	buf.Write(msg)
	buf.WriteString("}\n")
}

func writeLine(buf *bytes.Buffer, structured bool, useColor bool,
	t time.Time, level Level, format string, args []interface{},
) {
	buf.Reset()

	if structured {
		writeStructured(buf, t, level, format, args)
		return
	}

	writePlainTime(buf, t, useColor)
	writePlainLevel(buf, level, useColor)
	writePlainContent(buf, format, args)
}

// Log writes a log entry.
func (lh *Logger) Log(level Level, format string, args ...interface{}) {
	if level < lh.Level {
		return
	}

	lh.mutex.Lock()
	defer lh.mutex.Unlock()

	t := lh.timeNow()

	for _, dest := range lh.destinations {
		dest.log(t, level, format, args...)
	}
}

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	}
	return "level(" + strconv.Itoa(int(l)) + ")"
}
