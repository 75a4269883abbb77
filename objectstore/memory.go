package objectstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/INLOpen/nexusvault/core"
)

type memObject struct {
	data     []byte
	modTime  time.Time
	metadata map[string]string
	etag     string
}

// MemStore is the in-memory driver used by tests. It supports per-key
// failure injection so pipeline tests can exercise transient and permanent
// error paths without a backend.
type MemStore struct {
	mu       sync.RWMutex
	objects  map[string]memObject
	putErrs  map[string]*injectedError
	getErrs  map[string]*injectedError
	clock    core.Clock
	putCount map[string]int
}

type injectedError struct {
	err error
	// remaining < 0 means fail forever; otherwise decremented per hit.
	remaining int
}

func NewMemStore(clock core.Clock) *MemStore {
	if clock == nil {
		clock = core.SystemClock()
	}
	return &MemStore{
		objects:  make(map[string]memObject),
		putErrs:  make(map[string]*injectedError),
		getErrs:  make(map[string]*injectedError),
		putCount: make(map[string]int),
		clock:    clock,
	}
}

var _ Store = (*MemStore)(nil)

// FailPut makes Put on key fail with err. times < 0 fails forever.
func (s *MemStore) FailPut(key string, err error, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErrs[key] = &injectedError{err: err, remaining: times}
}

// FailGet makes Get on key fail with err. times < 0 fails forever.
func (s *MemStore) FailGet(key string, err error, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErrs[key] = &injectedError{err: err, remaining: times}
}

// ClearFailures removes all injected errors.
func (s *MemStore) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErrs = make(map[string]*injectedError)
	s.getErrs = make(map[string]*injectedError)
}

// PutCount reports how many successful puts key received.
func (s *MemStore) PutCount(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.putCount[key]
}

// TotalPuts reports the number of successful puts across all keys.
func (s *MemStore) TotalPuts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, n := range s.putCount {
		total += n
	}
	return total
}

// Bytes returns a copy of the stored object payload.
func (s *MemStore) Bytes(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, true
}

func takeInjected(m map[string]*injectedError, key string) error {
	inj, ok := m[key]
	if !ok || inj.remaining == 0 {
		return nil
	}
	if inj.remaining > 0 {
		inj.remaining--
	}
	return inj.err
}

func (s *MemStore) Put(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", core.NewError(ctxKind(ctx), "memstore.put", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", core.NewError(core.KindLocalIO, "memstore.put", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := takeInjected(s.putErrs, key); err != nil {
		return "", err
	}
	etag := etagOf(data)
	s.objects[key] = memObject{data: data, modTime: s.clock.Now(), metadata: metadata, etag: etag}
	s.putCount[key]++
	return etag, nil
}

func (s *MemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.NewError(ctxKind(ctx), "memstore.get", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := takeInjected(s.getErrs, key); err != nil {
		return nil, err
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, notFoundErr("memstore.get", key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemStore) List(ctx context.Context, prefix string, fn func(ObjectInfo) error) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()
	sort.Strings(keys)

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return core.NewError(ctxKind(ctx), "memstore.list", err)
		}
		s.mu.RLock()
		obj := s.objects[k]
		s.mu.RUnlock()
		if err := fn(ObjectInfo{Key: k, Size: int64(len(obj.data)), ModTime: obj.modTime}); err != nil {
			if err == ErrStopIteration {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *MemStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return core.NewError(ctxKind(ctx), "memstore.delete", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MemStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, core.NewError(ctxKind(ctx), "memstore.exists", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}
