package confwatcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haishinkit/haishin/internal/test"
)

func createConf(t *testing.T) string {
	fpath := filepath.Join(t.TempDir(), "haishin.yml")
	err := os.WriteFile(fpath, []byte("hls: yes\n"), 0o644)
	require.NoError(t, err)
	return fpath
}

func writeConf(t *testing.T, fpath string, content string) {
	f, err := os.Create(fpath)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte(content))
	require.NoError(t, err)
}

func waitSignal(t *testing.T, w *ConfWatcher) {
	select {
	case <-w.Watch():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out")
	}
}

func TestNoFile(t *testing.T) {
	w := &ConfWatcher{FilePath: filepath.Join(t.TempDir(), "missing.yml")}
	err := w.Initialize()
	require.Error(t, err)
}

func TestWrite(t *testing.T) {
	fpath := createConf(t)

	w := &ConfWatcher{FilePath: fpath, Parent: test.NilLogger}
	err := w.Initialize()
	require.NoError(t, err)
	defer w.Close()

	writeConf(t, fpath, "hls: no\n")
	waitSignal(t, w)
}

func TestWriteMultipleTimes(t *testing.T) {
	fpath := createConf(t)

	w := &ConfWatcher{FilePath: fpath, Parent: test.NilLogger}
	err := w.Initialize()
	require.NoError(t, err)
	defer w.Close()

	writeConf(t, fpath, "hls: no\n")
	time.Sleep(10 * time.Millisecond)
	writeConf(t, fpath, "hls: yes\n")

	waitSignal(t, w)

	select {
	case <-time.After(500 * time.Millisecond):
	case <-w.Watch():
		t.Fatal("should not happen")
	}
}

func TestRenameReplace(t *testing.T) {
	fpath := createConf(t)

	w := &ConfWatcher{FilePath: fpath, Parent: test.NilLogger}
	err := w.Initialize()
	require.NoError(t, err)
	defer w.Close()

	tmp := fpath + ".tmp"
	writeConf(t, tmp, "record: yes\n")

	err = os.Rename(tmp, fpath)
	require.NoError(t, err)

	waitSignal(t, w)
}

func TestDeleteCreate(t *testing.T) {
	fpath := createConf(t)

	w := &ConfWatcher{FilePath: fpath, Parent: test.NilLogger}
	err := w.Initialize()
	require.NoError(t, err)
	defer w.Close()

	err = os.Remove(fpath)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	writeConf(t, fpath, "hls: no\n")
	waitSignal(t, w)
}

func TestSymlinkDeleteCreate(t *testing.T) {
	fpath := createConf(t)

	err := os.Symlink(fpath, fpath+"-sym")
	require.NoError(t, err)

	w := &ConfWatcher{FilePath: fpath + "-sym", Parent: test.NilLogger}
	err = w.Initialize()
	require.NoError(t, err)
	defer w.Close()

	err = os.Remove(fpath)
	require.NoError(t, err)

	writeConf(t, fpath, "hls: no\n")
	waitSignal(t, w)
}

func TestCloseClosesChannel(t *testing.T) {
	w := &ConfWatcher{FilePath: createConf(t)}
	err := w.Initialize()
	require.NoError(t, err)

	w.Close()

	_, ok := <-w.Watch()
	require.False(t, ok)
}
