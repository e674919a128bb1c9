package state

import (
	"errors"
	"fmt"
	"math"
)

// StateVersion is the layout of the staking records this binary writes. Bump
// it when a stored record changes shape.
const StateVersion uint32 = 2

var schemaKey = []byte("state/schema")

// ErrStateVersionMismatch reports a database written with another layout.
var ErrStateVersionMismatch = errors.New("state: schema version mismatch")

// SetStateVersion stamps the database with version.
func (m *Manager) SetStateVersion(version uint32) error {
	return m.KVPut(schemaKey, uint64(version))
}

// StateVersion reads the stamped layout version. ok is false on a database
// that was never stamped.
func (m *Manager) StateVersion() (version uint32, ok bool, err error) {
	var raw uint64
	found, err := m.KVGet(schemaKey, &raw)
	if err != nil || !found {
		return 0, false, err
	}
	if raw > math.MaxUint32 {
		return 0, false, fmt.Errorf("state: stored schema version %d out of range", raw)
	}
	return uint32(raw), true, nil
}

// EnsureStateVersion stamps an unstamped database and refuses one stamped
// with a different version unless allowMigrate is set.
func (m *Manager) EnsureStateVersion(allowMigrate bool) error {
	stored, ok, err := m.StateVersion()
	switch {
	case err != nil:
		return err
	case !ok:
		return m.SetStateVersion(StateVersion)
	case stored != StateVersion && !allowMigrate:
		return fmt.Errorf("%w: database has %d, binary expects %d", ErrStateVersionMismatch, stored, StateVersion)
	}
	return nil
}
