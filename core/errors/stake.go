package errors

import stderrors "errors"

// Construction errors.
var (
	ErrZeroEpochDuration = stderrors.New("stake: epoch duration must be positive")
	ErrInvalidDecayRate  = stderrors.New("stake: decay rate must not exceed 100")
	ErrNilCollaborator   = stderrors.New("stake: collaborator not configured")
	ErrZeroAdmin         = stderrors.New("stake: admin principal must not be zero")
)

// Authorization errors.
var (
	ErrNotOwner    = stderrors.New("stake: caller is not the owner")
	ErrNotApproved = stderrors.New("stake: engine not approved for transfer")
	ErrNotAdmin    = stderrors.New("stake: caller is not the admin")
)

// Timing errors.
var (
	ErrEpochNotFinishedYet = stderrors.New("stake: epoch not finished yet")
	ErrEpochDidNotPassYet  = stderrors.New("stake: lock epoch did not pass yet")
)

// Resource-state errors.
var (
	ErrNoRewardsInPool  = stderrors.New("stake: no rewards in pool")
	ErrNoRewardsToClaim = stderrors.New("stake: no rewards to claim")
	ErrStakingPaused    = stderrors.New("stake: staking paused")
	ErrAlreadyLocked    = stderrors.New("stake: license already locked")
	ErrNoStakeInEpoch   = stderrors.New("stake: no units staked in epoch")
	ErrZeroParticipant  = stderrors.New("stake: participant must not be zero")
	ErrReentrantCall    = stderrors.New("stake: reentrant call")
)

// Invariant violations. These indicate a defect rather than a caller mistake.
var (
	ErrStakeUnderflow     = stderrors.New("stake: staked unit count underflow")
	ErrArithmeticOverflow = stderrors.New("stake: arithmetic overflow")
	// ErrStateDiverged reports that a rollback could not be persisted, so the
	// stored state no longer matches the collaborators.
	ErrStateDiverged = stderrors.New("stake: persisted state diverged")
)
