package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/wampline/relay-service/internal/domain/model"
	"github.com/wampline/relay-service/internal/store"
)

// SetAlias registers alias as a shorthand for uri and returns the URI it
// previously pointed to, empty when the alias is new.
func (s *RelayService) SetAlias(_ context.Context, id model.TenantID, alias, uri string) (string, error) {
	var previous string
	err := s.store.WithWriteback(id, func(rec *model.Record) error {
		previous = rec.Aliases[alias]
		rec.Aliases[alias] = uri
		return nil
	})
	return previous, err
}

// RemoveAlias deletes the alias and returns the URI it pointed to.
func (s *RelayService) RemoveAlias(_ context.Context, id model.TenantID, alias string) (string, error) {
	var uri string
	err := s.store.WithWriteback(id, func(rec *model.Record) error {
		var ok bool
		uri, ok = rec.Aliases[alias]
		if !ok {
			return fmt.Errorf("no alias %q exists", alias)
		}
		delete(rec.Aliases, alias)
		return nil
	})
	return uri, err
}

func (s *RelayService) Aliases(id model.TenantID) (map[string]string, error) {
	rec, err := s.store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Aliases == nil {
		return map[string]string{}, nil
	}
	return rec.Aliases, nil
}
