package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/retroplay/retroplay/pkg/config"
	"github.com/retroplay/retroplay/pkg/logger"
)

var errObjectNotFound = errors.New("object doesn't exist")

type Object struct {
	Name string
	Meta map[string]string
}

// ObjectStore is a flat bucket of named blobs with user metadata.
// Metadata keys are always lowercase.
type ObjectStore interface {
	Put(ctx context.Context, name string, data []byte, meta map[string]string) error
	Get(ctx context.Context, name string) ([]byte, map[string]string, error)
	// List returns all the objects under the prefix with their metadata.
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

// NewObjectStore creates a store for the configured provider.
func NewObjectStore(conf config.Remote, log *logger.Logger) (ObjectStore, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.Module("remote")
	ctx, cancel := context.WithTimeout(context.Background(), timeout(conf))
	defer cancel()

	switch conf.Provider {
	case "gcs":
		st, err := NewGoogleCloudStore(conf.Bucket, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "s3":
		st, err := NewS3Store(ctx, conf.Endpoint, conf.Bucket, conf.Key, conf.Secret, conf.Secure, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "memory":
		return NewMemoryStore(), nil
	case "none", "":
		return NoopStore{}, nil
	}
	return nil, fmt.Errorf("unknown remote provider: %v", conf.Provider)
}

func timeout(conf config.Remote) time.Duration {
	if conf.Timeout > 0 {
		return conf.Timeout
	}
	return 15 * time.Second
}

// MemoryStore keeps the objects in memory.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]memObject
	// fail makes all the calls fail when set
	fail error
}

type memObject struct {
	data []byte
	meta map[string]string
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{objects: make(map[string]memObject)} }

// SetFailure makes the store fail every call with err until reset with nil.
func (m *MemoryStore) SetFailure(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *MemoryStore) Put(_ context.Context, name string, data []byte, meta map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.objects[name] = memObject{data: append([]byte{}, data...), meta: copyMeta(meta)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, name string) ([]byte, map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, nil, m.fail
	}
	o, ok := m.objects[name]
	if !ok {
		return nil, nil, errObjectNotFound
	}
	return append([]byte{}, o.data...), copyMeta(o.meta), nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	var list []Object
	for name, o := range m.objects {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		list = append(list, Object{Name: name, Meta: copyMeta(o.meta)})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	delete(m.objects, name)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// NoopStore is used when there is no remote storage,
// every call fails.
type NoopStore struct{}

var errNoop = errors.New("remote storage is disabled")

func (NoopStore) Put(context.Context, string, []byte, map[string]string) error { return errNoop }
func (NoopStore) Get(context.Context, string) ([]byte, map[string]string, error) {
	return nil, nil, errNoop
}
func (NoopStore) List(context.Context, string) ([]Object, error) { return nil, errNoop }
func (NoopStore) Delete(context.Context, string) error           { return errNoop }
func (NoopStore) Close() error                                   { return nil }

// copyMeta copies the metadata with lowercase keys.
func copyMeta(meta map[string]string) map[string]string {
	md := make(map[string]string, len(meta))
	for k, v := range meta {
		md[strings.ToLower(k)] = v
	}
	return md
}
