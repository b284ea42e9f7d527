// Package store persists per-tenant records as self-describing JSON, one
// document per tenant. It is the single durable source of truth for a
// tenant's desired connection target and subscription set.
package store

import (
	"errors"

	"github.com/wampline/relay-service/internal/domain/model"
)

var (
	// ErrNotFound reports that no record exists for the tenant.
	ErrNotFound = errors.New("record not found")

	// ErrPersistence wraps storage I/O failures. Callers abort the
	// operation and leave in-memory state unchanged to avoid diverging
	// from the store.
	ErrPersistence = errors.New("persistence failure")
)

// Storer is the durable tenant-id to record mapping.
//
// Writebacks for different tenants are independent. Writebacks for the same
// tenant are serialized internally so a partial write is never observable,
// though single-threaded command processing per tenant is still assumed.
type Storer interface {
	// Get returns a copy of the tenant's record, or ErrNotFound.
	Get(id model.TenantID) (model.Record, error)

	// WithWriteback loads the tenant's record (or a default when absent),
	// hands it to fn for mutation, and persists it back exactly once when
	// fn returns, even when fn fails. The fn error is returned to the
	// caller; a persist failure wraps ErrPersistence.
	WithWriteback(id model.TenantID, fn func(*model.Record) error) error

	// Delete removes the tenant's record, or returns ErrNotFound.
	Delete(id model.TenantID) error

	// Iterate calls fn for every stored record. The sequence is finite and
	// restartable: each call walks the current contents from the start.
	Iterate(fn func(model.TenantID, model.Record) error) error
}
