package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/forest6511/rvault/internal/fsutil"
)

// Unlock cooldown: 5 failures -> 30s, 10 -> 5min, 20 -> 30min.
const (
	CooldownThreshold1 = 5
	CooldownThreshold2 = 10
	CooldownThreshold3 = 20
	CooldownDuration1  = 30 * time.Second
	CooldownDuration2  = 5 * time.Minute
	CooldownDuration3  = 30 * time.Minute
)

// LockState tracks failed unlock attempts.
type LockState struct {
	FailedAttempts int       `json:"failed_attempts"`
	LastAttempt    time.Time `json:"last_attempt"`
	CooldownUntil  time.Time `json:"cooldown_until"`
	LockoutCount   int       `json:"lockout_count"`
}

func (s *LockState) remaining(now time.Time) time.Duration {
	if s.CooldownUntil.IsZero() || !now.Before(s.CooldownUntil) {
		return 0
	}
	return s.CooldownUntil.Sub(now)
}

// cooldownFor returns the cooldown that starts after the given number of
// failures, or zero.
func cooldownFor(attempts int) time.Duration {
	switch {
	case attempts >= CooldownThreshold3:
		return CooldownDuration3
	case attempts >= CooldownThreshold2:
		return CooldownDuration2
	case attempts >= CooldownThreshold1:
		return CooldownDuration1
	}
	return 0
}

// loadLockState reads unlock.state. A missing or corrupted file is an
// empty state.
func (v *Vault) loadLockState() *LockState {
	data, err := os.ReadFile(v.paths.StateFile())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			v.logger.Warn("failed to read unlock state", "error", err)
		}
		return &LockState{}
	}
	var state LockState
	if err := json.Unmarshal(data, &state); err != nil {
		v.logger.Warn("unlock state corrupted, resetting")
		return &LockState{}
	}
	return &state
}

func (v *Vault) saveLockState(state *LockState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("vault: failed to marshal unlock state: %w", err)
	}
	if err := fsutil.WriteFileAtomic(v.paths.StateFile(), data); err != nil {
		return fmt.Errorf("vault: failed to write unlock state: %w", err)
	}
	return nil
}

func (v *Vault) clearLockState() error {
	err := os.Remove(v.paths.StateFile())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("vault: failed to clear unlock state: %w", err)
	}
	return nil
}

// recordFailedAttempt increments the failure count in state, starts a
// cooldown at each threshold and persists the result.
func (v *Vault) recordFailedAttempt(state *LockState) (time.Duration, error) {
	now := v.now()
	state.FailedAttempts++
	state.LastAttempt = now

	cooldown := cooldownFor(state.FailedAttempts)
	if cooldown > 0 {
		state.CooldownUntil = now.Add(cooldown)
		state.LockoutCount++
	}
	return cooldown, v.saveLockState(state)
}

// LockState returns the persisted unlock attempt state.
func (v *Vault) LockState() *LockState {
	return v.loadLockState()
}
