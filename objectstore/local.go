package objectstore

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/INLOpen/nexusvault/core"
)

// LocalStore maps keys to files under a root directory. It backs
// air-gapped deployments and integration tests; the key's leading segment
// (the configured backup location) becomes a directory like any other.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, core.NewError(core.KindLocalIO, "localstore.new", err)
	}
	return &LocalStore{root: root}, nil
}

var _ Store = (*LocalStore)(nil)

func (s *LocalStore) pathOf(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) (string, error) {
	const op = "localstore.put"
	if err := ctx.Err(); err != nil {
		return "", core.NewError(ctxKind(ctx), op, err)
	}
	dest := s.pathOf(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", core.NewError(core.KindRemotePermanent, op, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".put-*")
	if err != nil {
		return "", core.NewError(core.KindRemotePermanent, op, err)
	}
	defer os.Remove(tmp.Name())

	data, err := io.ReadAll(r)
	if err != nil {
		tmp.Close()
		return "", core.NewError(core.KindLocalIO, op, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", core.NewError(core.KindRemotePermanent, op, err)
	}
	if err := tmp.Close(); err != nil {
		return "", core.NewError(core.KindRemotePermanent, op, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", core.NewError(core.KindRemotePermanent, op, err)
	}
	return etagOf(data), nil
}

func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	const op = "localstore.get"
	if err := ctx.Err(); err != nil {
		return nil, core.NewError(ctxKind(ctx), op, err)
	}
	f, err := os.Open(s.pathOf(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFoundErr(op, key)
		}
		return nil, core.NewError(core.KindRemoteTransient, op, err)
	}
	return f, nil
}

func (s *LocalStore) List(ctx context.Context, prefix string, fn func(ObjectInfo) error) error {
	const op = "localstore.list"
	var infos []ObjectInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		infos = append(infos, ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return core.NewError(core.KindRemoteTransient, op, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })

	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return core.NewError(ctxKind(ctx), op, err)
		}
		if err := fn(info); err != nil {
			if err == ErrStopIteration {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	const op = "localstore.delete"
	if err := ctx.Err(); err != nil {
		return core.NewError(ctxKind(ctx), op, err)
	}
	if err := os.Remove(s.pathOf(key)); err != nil && !os.IsNotExist(err) {
		return core.NewError(core.KindRemotePermanent, op, err)
	}
	return nil
}

func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	const op = "localstore.exists"
	if err := ctx.Err(); err != nil {
		return false, core.NewError(ctxKind(ctx), op, err)
	}
	if _, err := os.Stat(s.pathOf(key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, core.NewError(core.KindRemoteTransient, op, err)
	}
	return true, nil
}
