package common

import (
	"context"
	"errors"
)

var ErrModulePaused = errors.New("module paused")

// StoreState is the key/value surface native modules persist through.
type StoreState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

type PauseView interface {
	IsPaused(ctx context.Context, module string) bool
}

func Guard(ctx context.Context, p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(ctx, module) {
		return ErrModulePaused
	}
	return nil
}
