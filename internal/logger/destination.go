package logger

import (
	"bytes"
	"io"
	"os"
	"time"

	"golang.org/x/term"
)

type destination interface {
	log(time.Time, Level, string, ...interface{})
	close()
}

type destinationStdout struct {
	w          io.Writer
	structured bool
	useColor   bool
	buf        bytes.Buffer
}

func newDestinationStdout(w io.Writer, structured bool) destination {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = term.IsTerminal(int(f.Fd()))
	}

	return &destinationStdout{
		w:          w,
		structured: structured,
		useColor:   useColor,
	}
}

func (d *destinationStdout) log(t time.Time, level Level, format string, args ...interface{}) {
	writeLine(&d.buf, d.structured, d.useColor, t, level, format, args)
	d.w.Write(d.buf.Bytes()) //nolint:errcheck
}

func (d *destinationStdout) close() {
}

type destinationFile struct {
	file       *os.File
	structured bool
	buf        bytes.Buffer
}

func newDestinationFile(filePath string, structured bool) (destination, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	return &destinationFile{
		file:       f,
		structured: structured,
	}, nil
}

func (d *destinationFile) log(t time.Time, level Level, format string, args ...interface{}) {
	writeLine(&d.buf, d.structured, false, t, level, format, args)
	d.file.Write(d.buf.Bytes()) //nolint:errcheck
}

func (d *destinationFile) close() {
	d.file.Close()
}

type sysLogWriter interface {
	write(level Level, line string) error
	close() error
}

type destinationSyslog struct {
	syslog     sysLogWriter
	structured bool
	buf        bytes.Buffer
}

func newDestinationSyslog(prefix string, structured bool) (destination, error) {
	syslog, err := newSysLog(prefix)
	if err != nil {
		return nil, err
	}

	return &destinationSyslog{
		syslog:     syslog,
		structured: structured,
	}, nil
}

func (d *destinationSyslog) log(t time.Time, level Level, format string, args ...interface{}) {
	writeLine(&d.buf, d.structured, false, t, level, format, args)
	d.syslog.write(level, d.buf.String()) //nolint:errcheck
}

func (d *destinationSyslog) close() {
	d.syslog.close() //nolint:errcheck
}
