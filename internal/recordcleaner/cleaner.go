// Package recordcleaner contains the recording cleaner.
package recordcleaner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haishinkit/haishin/internal/logger"
)

const maxCleanInterval = 30 * time.Minute

var timeNow = time.Now

// CommonPath returns the directory that contains every file
// generated by a recording path template.
func CommonPath(recordPath string) string {
	i := strings.IndexByte(recordPath, '%')
	if i < 0 {
		return filepath.Dir(recordPath)
	}

	dir := recordPath[:i]
	if !strings.HasSuffix(dir, "/") && !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir = filepath.Dir(dir)
	}
	return filepath.Clean(dir)
}

// Cleaner removes recordings that have not been modified for DeleteAfter.
type Cleaner struct {
	RecordPath  string
	DeleteAfter time.Duration
	Parent      logger.Writer

	ctx       context.Context
	ctxCancel func()
	done      chan struct{}
}

// Initialize initializes a Cleaner.
func (c *Cleaner) Initialize() {
	c.ctx, c.ctxCancel = context.WithCancel(context.Background())
	c.done = make(chan struct{})

	go c.run()
}

// Close closes the Cleaner.
func (c *Cleaner) Close() {
	c.ctxCancel()
	<-c.done
}

// Log implements logger.Writer.
func (c *Cleaner) Log(level logger.Level, format string, args ...interface{}) {
	c.Parent.Log(level, "[record cleaner] "+format, args...)
}

func (c *Cleaner) run() {
	defer close(c.done)

	c.doRun()

	for {
		select {
		case <-time.After(c.cleanInterval()):
			c.doRun()

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Cleaner) cleanInterval() time.Duration {
	if interval := c.DeleteAfter / 2; interval < maxCleanInterval {
		return interval
	}
	return maxCleanInterval
}

func (c *Cleaner) doRun() {
	commonPath := CommonPath(c.RecordPath)
	end := timeNow().Add(-c.DeleteAfter)

	var dirs []string

	filepath.WalkDir(commonPath, func(fpath string, entry fs.DirEntry, err error) error { //nolint:errcheck
		if err != nil {
			return err
		}

		if entry.IsDir() {
			if fpath != commonPath {
				dirs = append(dirs, fpath)
			}
			return nil
		}

		if filepath.Ext(fpath) != ".mp4" {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return nil
		}

		if info.ModTime().Before(end) {
			c.Log(logger.Debug, "removing %s", fpath)
			os.Remove(fpath)
		}

		return nil
	})

	// deepest first. Non-empty directories are not removed.
	for i := len(dirs) - 1; i >= 0; i-- {
		os.Remove(dirs[i])
	}
}
