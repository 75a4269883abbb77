package core

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// TimeLayout is the minute-precision instant format embedded in every
// remote key. It is lexicographically sortable, so prefix scans over keys
// double as time scans.
const TimeLayout = "200601021504"

// FileType tags a BackupPath with the kind of file it describes.
type FileType string

const (
	FileTypeSnapshot    FileType = "SNAP"
	FileTypeSSTable     FileType = "SST"
	FileTypeCommitLog   FileType = "CL"
	FileTypeMeta        FileType = "META"
	FileTypeMetaV2      FileType = "META_V2"
	metaDirName                  = "META"
	v1MetaSuffix                 = "-meta.json"
)

// IsDataFile reports whether the type names a data file (as opposed to a
// manifest).
func (t FileType) IsDataFile() bool {
	return t == FileTypeSnapshot || t == FileTypeSSTable || t == FileTypeCommitLog
}

func parseFileType(s string) (FileType, bool) {
	switch FileType(s) {
	case FileTypeSnapshot, FileTypeSSTable, FileTypeCommitLog:
		return FileType(s), true
	}
	return "", false
}

// Location identifies where a node's backups live: the object-store root,
// the top-level prefix, the cluster name and the node's ring token.
type Location struct {
	BaseDir     string
	Prefix      string
	ClusterName string
	Token       string
	Region      string
}

// TokenPrefix is the key prefix under which every object of this node
// lives: <base>/<prefix>/<reverse(cluster)>/<token>.
func (l Location) TokenPrefix() string {
	return path.Join(l.BaseDir, l.Prefix, reverseString(l.ClusterName), l.Token)
}

// MetaPrefix is the key prefix for this node's manifests.
func (l Location) MetaPrefix() string {
	return path.Join(l.TokenPrefix(), metaDirName)
}

// BackupPath is the immutable description of one backed-up file: where it
// lives locally, where it lives remotely, and everything the naming scheme
// encodes. Two BackupPath values are equal iff their remote keys are equal.
type BackupPath struct {
	Type         FileType
	ClusterName  string
	Keyspace     string
	ColumnFamily string
	Token        string
	Region       string
	Time         time.Time
	FileName     string

	Size           int64 // uncompressed bytes
	CompressedSize int64 // 0 until measured
	LastModified   time.Time
	UploadedAt     time.Time // zero until uploaded

	BaseDir   string
	Prefix    string
	LocalPath string
}

// FormatTime renders an instant in the canonical key layout (UTC, minute
// precision).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a canonical key instant.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, Errorf(KindMalformedKey, "core.parsetime", "bad instant %q: %w", s, err)
	}
	return t, nil
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// RemoteKey encodes the path into its canonical object-store key.
//
// Data files:
//
//	<base>/<prefix>/<reverse(cluster)>/<token>/<yyyyMMddHHmm>/<ks>/<cf>/<type>/<file>
//
// v2 manifests:
//
//	<base>/<prefix>/<reverse(cluster)>/<token>/META/<yyyyMMddHHmm>/<file>
//
// v1 manifests (legacy):
//
//	<base>/<prefix>/<reverse(cluster)>/<token>/META/<yyyyMMddHHmm>-meta.json
func (p BackupPath) RemoteKey() string {
	loc := Location{BaseDir: p.BaseDir, Prefix: p.Prefix, ClusterName: p.ClusterName, Token: p.Token}
	switch p.Type {
	case FileTypeMetaV2:
		return path.Join(loc.MetaPrefix(), FormatTime(p.Time), p.FileName)
	case FileTypeMeta:
		return path.Join(loc.MetaPrefix(), FormatTime(p.Time)+v1MetaSuffix)
	default:
		return path.Join(loc.TokenPrefix(), FormatTime(p.Time), p.Keyspace, p.ColumnFamily, string(p.Type), p.FileName)
	}
}

// Equal reports remote-key equality, the identity of a BackupPath.
func (p BackupPath) Equal(o BackupPath) bool {
	return p.RemoteKey() == o.RemoteKey()
}

// Less orders BackupPath values lexicographically over their remote keys.
func (p BackupPath) Less(o BackupPath) bool {
	return p.RemoteKey() < o.RemoteKey()
}

// Decode parses a canonical remote key back into a BackupPath. It is the
// inverse of RemoteKey on well-formed keys. The base directory and prefix
// each occupy exactly one key segment.
func Decode(key string) (BackupPath, error) {
	const op = "core.decode"
	parts := strings.Split(key, "/")
	if len(parts) < 6 {
		return BackupPath{}, Errorf(KindMalformedKey, op, "key %q: too few segments", key)
	}
	p := BackupPath{
		BaseDir:     parts[0],
		Prefix:      parts[1],
		ClusterName: reverseString(parts[2]),
		Token:       parts[3],
	}
	if parts[4] == metaDirName {
		return decodeMeta(op, key, parts, p)
	}
	if len(parts) != 9 {
		return BackupPath{}, Errorf(KindMalformedKey, op, "key %q: want 9 segments for a data file, got %d", key, len(parts))
	}
	t, err := ParseTime(parts[4])
	if err != nil {
		return BackupPath{}, err
	}
	typ, ok := parseFileType(parts[7])
	if !ok {
		return BackupPath{}, Errorf(KindMalformedKey, op, "key %q: unknown file type %q", key, parts[7])
	}
	p.Time = t
	p.Keyspace = parts[5]
	p.ColumnFamily = parts[6]
	p.Type = typ
	p.FileName = parts[8]
	if p.Keyspace == "" || p.FileName == "" {
		return BackupPath{}, Errorf(KindMalformedKey, op, "key %q: empty keyspace or file name", key)
	}
	return p, nil
}

func decodeMeta(op, key string, parts []string, p BackupPath) (BackupPath, error) {
	switch len(parts) {
	case 7: // v2: .../META/<instant>/<name>
		t, err := ParseTime(parts[5])
		if err != nil {
			return BackupPath{}, err
		}
		p.Type = FileTypeMetaV2
		p.Time = t
		p.FileName = parts[6]
		return p, nil
	case 6: // v1: .../META/<instant>-meta.json
		name := parts[5]
		if !strings.HasSuffix(name, v1MetaSuffix) {
			return BackupPath{}, Errorf(KindMalformedKey, op, "key %q: malformed v1 meta name", key)
		}
		t, err := ParseTime(strings.TrimSuffix(name, v1MetaSuffix))
		if err != nil {
			return BackupPath{}, err
		}
		p.Type = FileTypeMeta
		p.Time = t
		p.FileName = name
		return p, nil
	default:
		return BackupPath{}, Errorf(KindMalformedKey, op, "key %q: malformed meta key", key)
	}
}

// EncodePartial returns the longest key prefix covering every data key of
// the token in [start, end]: the shared prefix of the two formatted
// endpoints appended to the token prefix.
func EncodePartial(loc Location, start, end time.Time) string {
	s := FormatTime(start)
	e := FormatTime(end)
	i := 0
	for i < len(s) && i < len(e) && s[i] == e[i] {
		i++
	}
	return loc.TokenPrefix() + "/" + s[:i]
}

// SSTableBaseName returns the common component name of an SSTable file,
// everything before the last '-'. The second return is false when the name
// has no '-' and is not an SSTable component.
func SSTableBaseName(fileName string) (string, bool) {
	i := strings.LastIndex(fileName, "-")
	if i < 0 {
		return "", false
	}
	return fileName[:i], true
}

// RestoreTarget computes the local path a backed-up file is restored to.
// Commit logs land in the commit-log directory; data files land under
// <dataDir>/<ks>/<cf>/; manifests are never written locally.
func (p BackupPath) RestoreTarget(dataDir, commitLogDir string) (string, error) {
	switch p.Type {
	case FileTypeCommitLog:
		return path.Join(commitLogDir, p.FileName), nil
	case FileTypeSnapshot, FileTypeSSTable:
		return path.Join(dataDir, p.Keyspace, p.ColumnFamily, p.FileName), nil
	default:
		return "", fmt.Errorf("file type %s has no local restore target", p.Type)
	}
}
