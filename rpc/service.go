package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"licensestake/core/engine"
	stakeerrors "licensestake/core/errors"
	"licensestake/core/types"
	"licensestake/native/bank"
	"licensestake/native/license"
	"licensestake/native/system"
	telemetry "licensestake/observability/otel"
)

// Service serialises every engine call behind one mutex so operations are
// applied in a total order.
type Service struct {
	mu       sync.Mutex
	engine   *engine.Engine
	licenses *license.Registry
	token    *bank.Token
	gate     *system.Gate
	now      func() time.Time
}

func NewService(eng *engine.Engine, licenses *license.Registry, token *bank.Token, gate *system.Gate) *Service {
	return &Service{engine: eng, licenses: licenses, token: token, gate: gate, now: time.Now}
}

func (s *Service) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, "stake."+name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) Lock(ctx context.Context, principal common.Address, tokenID uint64) (err error) {
	ctx, span := s.span(ctx, "lock", attribute.String("participant", principal.Hex()), attribute.Int64("token_id", int64(tokenID)))
	defer func() { finish(span, err) }()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Lock(ctx, principal, tokenID, s.now())
}

func (s *Service) Unlock(ctx context.Context, principal common.Address, tokenID uint64) (err error) {
	ctx, span := s.span(ctx, "unlock", attribute.String("participant", principal.Hex()), attribute.Int64("token_id", int64(tokenID)))
	defer func() { finish(span, err) }()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Unlock(ctx, principal, tokenID, s.now())
}

func (s *Service) Claim(ctx context.Context, principal common.Address) (amount *uint256.Int, err error) {
	ctx, span := s.span(ctx, "claim", attribute.String("participant", principal.Hex()))
	defer func() { finish(span, err) }()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Claim(ctx, principal, s.now())
}

func (s *Service) CloseEpoch(ctx context.Context, caller common.Address) (settlement types.EpochSettlement, err error) {
	ctx, span := s.span(ctx, "close_epoch")
	defer func() { finish(span, err) }()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.CloseEpoch(ctx, caller, s.now())
}

func (s *Service) Pending(principal common.Address) (engine.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.PendingReward(principal)
}

// Approve lets the engine take custody of tokenID from its owner.
func (s *Service) Approve(_ context.Context, principal common.Address, tokenID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.licenses.Approve(principal, tokenID, s.engine.Address())
}

// MintLicense creates a license. Admin only.
func (s *Service) MintLicense(ctx context.Context, caller, owner common.Address, tokenID uint64) error {
	if !s.gate.IsAdmin(ctx, caller) {
		return stakeerrors.ErrNotAdmin
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.licenses.Mint(owner, tokenID)
}

// Fund mints reward tokens into custody. Admin only.
func (s *Service) Fund(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	if !s.gate.IsAdmin(ctx, caller) {
		return stakeerrors.ErrNotAdmin
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.Mint(s.engine.Address(), amount)
}

func (s *Service) SetPaused(ctx context.Context, caller common.Address, module string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		return s.gate.Pause(ctx, caller, module)
	}
	return s.gate.Unpause(ctx, caller, module)
}

// Status summarises the engine for the status endpoint.
type Status struct {
	Epoch          uint64
	EpochStartedAt uint64
	EpochEndsAt    uint64
	Pool           *uint256.Int
	TotalStaked    uint64
	Custody        common.Address
	RewardBalance  *uint256.Int
	Paused         bool
}

// Health reports whether the engine still accepts mutations.
func (s *Service) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Health()
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clock := s.engine.Clock()
	balance, err := s.engine.RewardBalance(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("reward balance: %w", err)
	}
	return Status{
		Epoch:          clock.Index,
		EpochStartedAt: clock.StartedAt,
		EpochEndsAt:    clock.EndsAt(),
		Pool:           s.engine.Pool(),
		TotalStaked:    s.engine.TotalStaked(),
		Custody:        s.engine.Address(),
		RewardBalance:  balance,
		Paused:         s.gate.IsPaused(ctx, system.ModuleStaking),
	}, nil
}

func (s *Service) Account(principal common.Address) *types.StakeAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Account(principal)
}

func (s *Service) Position(tokenID uint64) *types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Position(tokenID)
}

func (s *Service) Settlements() []types.EpochSettlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Settlements()
}

func (s *Service) Settlement(epoch uint64) (types.EpochSettlement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Settlement(epoch)
}

func (s *Service) Balance(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.BalanceOf(ctx, addr)
}

func (s *Service) LicenseOwner(ctx context.Context, tokenID uint64) (common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.licenses.OwnerOf(ctx, tokenID)
}
