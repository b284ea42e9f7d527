package store

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/wampline/relay-service/internal/domain/model"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(model.TenantID(7))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty store = %v, want ErrNotFound", err)
	}
}

func TestWritebackRoundTrip(t *testing.T) {
	s := newTestStore(t)
	id := model.TenantID(42)

	err := s.WithWriteback(id, func(rec *model.Record) error {
		rec.Config = &model.ConnectionConfig{Endpoint: "amqp://broker", Realm: "realm1"}
		rec.Subscriptions["alerts"] = model.SinkID("ops")
		rec.Aliases["p"] = "com.example.ping"
		return nil
	})
	if err != nil {
		t.Fatalf("WithWriteback: %v", err)
	}

	rec, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Config == nil || rec.Config.Endpoint != "amqp://broker" || rec.Config.Realm != "realm1" {
		t.Errorf("config = %+v, want amqp://broker realm1", rec.Config)
	}
	if rec.Subscriptions["alerts"] != "ops" {
		t.Errorf("subscriptions = %v, want alerts -> ops", rec.Subscriptions)
	}
	if rec.Aliases["p"] != "com.example.ping" {
		t.Errorf("aliases = %v, want p -> com.example.ping", rec.Aliases)
	}
}

func TestAbsentConfigStaysAbsent(t *testing.T) {
	s := newTestStore(t)
	id := model.TenantID(5)

	if err := s.WithWriteback(id, func(rec *model.Record) error {
		rec.Aliases["a"] = "com.example.a"
		return nil
	}); err != nil {
		t.Fatalf("WithWriteback: %v", err)
	}

	rec, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Config != nil {
		t.Errorf("config = %+v, want nil", rec.Config)
	}

	// The document itself must not carry a zero-value config field either.
	raw, err := os.ReadFile(filepath.Join(s.dir, id.String()+".json"))
	if err != nil {
		t.Fatalf("read record file: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode record file: %v", err)
	}
	if _, ok := doc["config"]; ok {
		t.Errorf("record file contains config key: %s", raw)
	}
}

func TestWritebackPersistsOnBodyError(t *testing.T) {
	s := newTestStore(t)
	id := model.TenantID(9)

	bodyErr := errors.New("mutation half done")
	err := s.WithWriteback(id, func(rec *model.Record) error {
		rec.Subscriptions["partial"] = model.SinkID("s1")
		return bodyErr
	})
	if !errors.Is(err, bodyErr) {
		t.Fatalf("WithWriteback = %v, want body error", err)
	}

	rec, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Subscriptions["partial"] != "s1" {
		t.Errorf("partial mutation was not persisted: %v", rec.Subscriptions)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	id := model.TenantID(3)

	if err := s.Delete(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete missing = %v, want ErrNotFound", err)
	}

	if err := s.WithWriteback(id, func(rec *model.Record) error {
		rec.Config = &model.ConnectionConfig{Endpoint: "mem://bus", Realm: "r"}
		return nil
	}); err != nil {
		t.Fatalf("WithWriteback: %v", err)
	}
	if err := s.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestIterateSkipsForeignFiles(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []model.TenantID{1, 2} {
		if err := s.WithWriteback(id, func(rec *model.Record) error {
			rec.Config = &model.ConnectionConfig{Endpoint: "mem://bus", Realm: id.String()}
			return nil
		}); err != nil {
			t.Fatalf("WithWriteback %d: %v", id, err)
		}
	}
	if err := os.WriteFile(filepath.Join(s.dir, "notes.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, "3.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	seen := map[model.TenantID]string{}
	err := s.Iterate(func(id model.TenantID, rec model.Record) error {
		seen[id] = rec.Config.Realm
		return nil
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if len(seen) != 2 || seen[1] != "1" || seen[2] != "2" {
		t.Errorf("Iterate visited %v, want tenants 1 and 2 only", seen)
	}
}

func TestGetReturnsCopies(t *testing.T) {
	s := newTestStore(t)
	id := model.TenantID(11)

	if err := s.WithWriteback(id, func(rec *model.Record) error {
		rec.Subscriptions["t"] = model.SinkID("s")
		return nil
	}); err != nil {
		t.Fatalf("WithWriteback: %v", err)
	}

	first, _ := s.Get(id)
	first.Subscriptions["t"] = model.SinkID("tampered")

	second, _ := s.Get(id)
	if second.Subscriptions["t"] != "s" {
		t.Errorf("mutation through one Get leaked into another: %v", second.Subscriptions)
	}
}
