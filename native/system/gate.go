// Package system holds the administrative principal and the per-module pause
// switches.
package system

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	stakeerrors "licensestake/core/errors"
	nativecommon "licensestake/native/common"
)

const (
	ModuleStaking = "staking"
	ModuleLicense = "license"
)

var (
	adminKey    = []byte("system/admin")
	pausePrefix = "system/paused/"
)

func pauseKey(module string) []byte {
	return []byte(pausePrefix + strings.ToLower(strings.TrimSpace(module)))
}

// Gate answers admin and pause queries. Only the admin can flip a switch.
type Gate struct {
	state nativecommon.StoreState
	admin common.Address
}

// NewGate loads the stored admin, or stores admin when none is recorded yet.
func NewGate(state nativecommon.StoreState, admin common.Address) (*Gate, error) {
	if state == nil {
		return nil, fmt.Errorf("system: state required")
	}
	var stored common.Address
	ok, err := state.KVGet(adminKey, &stored)
	if err != nil {
		return nil, fmt.Errorf("system: load admin: %w", err)
	}
	if ok && stored != (common.Address{}) {
		return &Gate{state: state, admin: stored}, nil
	}
	if admin == (common.Address{}) {
		return nil, stakeerrors.ErrZeroAdmin
	}
	if err := state.KVPut(adminKey, admin); err != nil {
		return nil, fmt.Errorf("system: persist admin: %w", err)
	}
	return &Gate{state: state, admin: admin}, nil
}

// Admin returns the administrative principal.
func (g *Gate) Admin() common.Address { return g.admin }

func (g *Gate) IsAdmin(_ context.Context, principal common.Address) bool {
	return principal != (common.Address{}) && principal == g.admin
}

// IsPaused reports whether module is paused. Read failures count as paused.
func (g *Gate) IsPaused(_ context.Context, module string) bool {
	var paused bool
	ok, err := g.state.KVGet(pauseKey(module), &paused)
	if err != nil {
		return true
	}
	return ok && paused
}

// Pause stops module until Unpause is called.
func (g *Gate) Pause(ctx context.Context, caller common.Address, module string) error {
	return g.setPaused(ctx, caller, module, true)
}

// Unpause resumes module.
func (g *Gate) Unpause(ctx context.Context, caller common.Address, module string) error {
	return g.setPaused(ctx, caller, module, false)
}

func (g *Gate) setPaused(ctx context.Context, caller common.Address, module string, paused bool) error {
	if !g.IsAdmin(ctx, caller) {
		return stakeerrors.ErrNotAdmin
	}
	if strings.TrimSpace(module) == "" {
		return fmt.Errorf("system: module required")
	}
	if !paused {
		return g.state.KVDelete(pauseKey(module))
	}
	return g.state.KVPut(pauseKey(module), true)
}

// Module scopes the gate to one module.
func (g *Gate) Module(name string) ModuleGate {
	return ModuleGate{gate: g, module: name}
}

// ModuleGate is a Gate bound to a single module name.
type ModuleGate struct {
	gate   *Gate
	module string
}

func (m ModuleGate) IsAdmin(ctx context.Context, principal common.Address) bool {
	return m.gate.IsAdmin(ctx, principal)
}

func (m ModuleGate) IsPaused(ctx context.Context) bool {
	return m.gate.IsPaused(ctx, m.module)
}
