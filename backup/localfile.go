package backup

import (
	"io"
	"os"
	"time"

	"github.com/INLOpen/nexusvault/core"
)

// localFile is a readable handle that pins the file's mtime at open. The
// database may replace a file between discovery and upload; the contract
// is that the read path detects a mid-open mtime change so the caller can
// restart from a consistent handle.
type localFile struct {
	path    string
	f       *os.File
	mtime   time.Time
	size    int64
}

const maxOpenRetries = 3

// openLocal opens path, re-opening until the mtime observed before and
// after the open agree.
func openLocal(path string) (*localFile, error) {
	const op = "backup.open"
	for attempt := 0; attempt < maxOpenRetries; attempt++ {
		before, err := os.Stat(path)
		if err != nil {
			return nil, core.NewError(core.KindLocalIO, op, err)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, core.NewError(core.KindLocalIO, op, err)
		}
		after, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, core.NewError(core.KindLocalIO, op, err)
		}
		if after.ModTime().Equal(before.ModTime()) {
			return &localFile{path: path, f: f, mtime: after.ModTime(), size: after.Size()}, nil
		}
		f.Close()
	}
	return nil, core.Errorf(core.KindLocalIO, op, "file %s kept changing while opening", path)
}

func (l *localFile) Read(p []byte) (int, error) {
	n, err := l.f.Read(p)
	if err != nil && err != io.EOF {
		err = core.NewError(core.KindLocalIO, "backup.read", err)
	}
	return n, err
}

func (l *localFile) Close() error { return l.f.Close() }

// Changed re-stats the file and reports whether it was modified since
// open. A vanished file counts as changed.
func (l *localFile) Changed() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return true
	}
	return !info.ModTime().Equal(l.mtime) || info.Size() != l.size
}
