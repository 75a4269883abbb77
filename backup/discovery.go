package backup

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/INLOpen/nexusvault/core"
)

const (
	snapshotsDirName = "snapshots"
	backupsDirName   = "backups"
)

// Discovery walks the database data directory and turns files into
// BackupPath records. The skip decision against the fingerprint cache is
// the upload pipeline's, so discovery reports every file; skipped files
// still contribute their manifest entry.
type Discovery struct {
	dataDir      string
	commitLogDir string
	loc          core.Location
	logger       *slog.Logger
}

func NewDiscovery(dataDir, commitLogDir string, loc core.Location, logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = discardLogger()
	}
	return &Discovery{
		dataDir:      dataDir,
		commitLogDir: commitLogDir,
		loc:          loc,
		logger:       logger.With("component", "Discovery"),
	}
}

func (d *Discovery) newPath(typ core.FileType, ks, cf string, t time.Time, localPath string, size int64, mtime time.Time) core.BackupPath {
	return core.BackupPath{
		Type:         typ,
		ClusterName:  d.loc.ClusterName,
		Keyspace:     ks,
		ColumnFamily: cf,
		Token:        d.loc.Token,
		Region:       d.loc.Region,
		Time:         t.UTC().Truncate(time.Minute),
		FileName:     filepath.Base(localPath),
		Size:         size,
		LastModified: mtime,
		BaseDir:      d.loc.BaseDir,
		Prefix:       d.loc.Prefix,
		LocalPath:    localPath,
	}
}

// keyspaceColumnFamilies lists <dataDir>/<ks>/<cf> pairs.
func (d *Discovery) keyspaceColumnFamilies() ([][2]string, error) {
	ksEntries, err := os.ReadDir(d.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.NewError(core.KindLocalIO, "backup.discover", err)
	}
	var out [][2]string
	for _, ks := range ksEntries {
		if !ks.IsDir() {
			continue
		}
		cfEntries, err := os.ReadDir(filepath.Join(d.dataDir, ks.Name()))
		if err != nil {
			return nil, core.NewError(core.KindLocalIO, "backup.discover", err)
		}
		for _, cf := range cfEntries {
			if cf.IsDir() {
				out = append(out, [2]string{ks.Name(), cf.Name()})
			}
		}
	}
	return out, nil
}

// SnapshotFiles enumerates <dataDir>/<ks>/<cf>/snapshots/<tag>/* after a
// snapshot command tagged with the round instant succeeded. The emitted
// records carry the tag instant as their time.
func (d *Discovery) SnapshotFiles(tag string) ([]core.BackupPath, error) {
	instant, err := core.ParseTime(tag)
	if err != nil {
		return nil, err
	}
	pairs, err := d.keyspaceColumnFamilies()
	if err != nil {
		return nil, err
	}
	var out []core.BackupPath
	for _, pair := range pairs {
		dir := filepath.Join(d.dataDir, pair[0], pair[1], snapshotsDirName, tag)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue // this column family was not part of the snapshot
			}
			return nil, core.NewError(core.KindLocalIO, "backup.discover", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				return nil, core.NewError(core.KindLocalIO, "backup.discover", err)
			}
			p := d.newPath(core.FileTypeSnapshot, pair[0], pair[1], instant, filepath.Join(dir, entry.Name()), info.Size(), info.ModTime())
			out = append(out, p)
		}
	}
	return d.ordered(out), nil
}

// IncrementalFiles enumerates <dataDir>/<ks>/<cf>/backups/, the directory
// the database hardlinks freshly flushed SSTables into. The file's
// last-modified instant becomes the record time.
func (d *Discovery) IncrementalFiles() ([]core.BackupPath, error) {
	pairs, err := d.keyspaceColumnFamilies()
	if err != nil {
		return nil, err
	}
	var out []core.BackupPath
	for _, pair := range pairs {
		dir := filepath.Join(d.dataDir, pair[0], pair[1], backupsDirName)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, core.NewError(core.KindLocalIO, "backup.discover", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				return nil, core.NewError(core.KindLocalIO, "backup.discover", err)
			}
			p := d.newPath(core.FileTypeSSTable, pair[0], pair[1], info.ModTime(), filepath.Join(dir, entry.Name()), info.Size(), info.ModTime())
			out = append(out, p)
		}
	}
	return d.ordered(out), nil
}

// CommitLogFiles enumerates the commit-log directory. Commit-log shipping
// is file-granular; records carry the file mtime.
func (d *Discovery) CommitLogFiles() ([]core.BackupPath, error) {
	if d.commitLogDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(d.commitLogDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.NewError(core.KindLocalIO, "backup.discover", err)
	}
	var out []core.BackupPath
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, core.NewError(core.KindLocalIO, "backup.discover", err)
		}
		p := d.newPath(core.FileTypeCommitLog, "commitlog", "commitlog", info.ModTime(), filepath.Join(d.commitLogDir, entry.Name()), info.Size(), info.ModTime())
		out = append(out, p)
	}
	return d.ordered(out), nil
}

// ordered sorts records by remote key for stable scheduling.
func (d *Discovery) ordered(paths []core.BackupPath) []core.BackupPath {
	sort.Slice(paths, func(i, j int) bool { return paths[i].Less(paths[j]) })
	return paths
}
