package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wampline/relay-service/internal/domain/model"
)

const recordCacheSize = 512

// FileStore keeps one <tenant-id>.json document per tenant under a data
// directory. Writes go through a temp file and rename so a crashed write
// never leaves a partial record behind.
type FileStore struct {
	dir    string
	logger *slog.Logger

	// cache holds recently read records; entries are replaced on write and
	// dropped on delete, so a hit is always current.
	cache *lru.Cache[model.TenantID, model.Record]

	// locks serializes writebacks per tenant id.
	locks sync.Map
}

var _ Storer = (*FileStore)(nil)

func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", ErrPersistence, err)
	}
	cache, err := lru.New[model.TenantID, model.Record](recordCacheSize)
	if err != nil {
		return nil, err
	}
	return &FileStore{
		dir:    dir,
		logger: logger,
		cache:  cache,
	}, nil
}

func (s *FileStore) Get(id model.TenantID) (model.Record, error) {
	if rec, ok := s.cache.Get(id); ok {
		return rec.Clone(), nil
	}
	rec, err := s.read(id)
	if err != nil {
		return model.Record{}, err
	}
	s.cache.Add(id, rec.Clone())
	return rec, nil
}

func (s *FileStore) WithWriteback(id model.TenantID, fn func(*model.Record) error) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.read(id)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = model.Record{}
	case err != nil:
		return err
	}
	rec.EnsureMaps()

	fnErr := fn(&rec)

	// Persist regardless of the body's outcome; the scope owns the record
	// for its duration and the mutation may have partially happened.
	if err := s.write(id, rec); err != nil {
		return errors.Join(fnErr, err)
	}
	s.cache.Add(id, rec.Clone())
	return fnErr
}

func (s *FileStore) Delete(id model.TenantID) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.cache.Remove(id)
	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrPersistence, id, err)
	}
	return nil
}

func (s *FileStore) Iterate(fn func(model.TenantID, model.Record) error) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("%w: list data dir: %v", ErrPersistence, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := model.ParseTenantID(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.logger.Warn("skipping unrecognized record file", "file", name)
			continue
		}
		rec, err := s.read(id)
		if err != nil {
			s.logger.Warn("skipping unreadable record", "tenant", id, "error", err)
			continue
		}
		if err := fn(id, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) path(id model.TenantID) string {
	return filepath.Join(s.dir, id.String()+".json")
}

func (s *FileStore) lockFor(id model.TenantID) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (s *FileStore) read(id model.TenantID) (model.Record, error) {
	raw, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return model.Record{}, ErrNotFound
	}
	if err != nil {
		return model.Record{}, fmt.Errorf("%w: read %s: %v", ErrPersistence, id, err)
	}
	var rec model.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.Record{}, fmt.Errorf("%w: decode %s: %v", ErrPersistence, id, err)
	}
	return rec, nil
}

func (s *FileStore) write(id model.TenantID, rec model.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrPersistence, id, err)
	}
	tmp, err := os.CreateTemp(s.dir, id.String()+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: stage %s: %v", ErrPersistence, id, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: stage %s: %v", ErrPersistence, id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: stage %s: %v", ErrPersistence, id, err)
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: commit %s: %v", ErrPersistence, id, err)
	}
	return nil
}
