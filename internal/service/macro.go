package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/wampline/relay-service/internal/domain/model"
	"github.com/wampline/relay-service/internal/store"
)

// SetMacro stores a named call or publish operation for later execution.
func (s *RelayService) SetMacro(_ context.Context, id model.TenantID, name string, macro model.Macro) error {
	if macro.Op != model.MacroCall && macro.Op != model.MacroPublish {
		return fmt.Errorf("unknown operation %q, expected %q or %q", macro.Op, model.MacroCall, model.MacroPublish)
	}
	if macro.URI == "" {
		return fmt.Errorf("macro %q has no target uri", name)
	}
	return s.store.WithWriteback(id, func(rec *model.Record) error {
		rec.Macros[name] = macro
		return nil
	})
}

func (s *RelayService) RemoveMacro(_ context.Context, id model.TenantID, name string) error {
	return s.store.WithWriteback(id, func(rec *model.Record) error {
		if _, ok := rec.Macros[name]; !ok {
			return fmt.Errorf("macro %q doesn't exist", name)
		}
		delete(rec.Macros, name)
		return nil
	})
}

func (s *RelayService) Macros(id model.TenantID) (map[string]model.Macro, error) {
	rec, err := s.store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]model.Macro{}, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Macros == nil {
		return map[string]model.Macro{}, nil
	}
	return rec.Macros, nil
}
