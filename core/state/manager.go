package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"licensestake/storage"
)

// Manager persists engine records and native module values in a key/value
// database. Every write folds into a running Keccak256 digest so two nodes
// that applied the same writes in the same order report the same Root.
type Manager struct {
	mu   sync.Mutex
	db   storage.Database
	root common.Hash
}

// NewManager opens a state manager over db and loads the stored digest.
func NewManager(db storage.Database) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database must not be nil")
	}
	m := &Manager{db: db}
	raw, err := db.Get(rootKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("state: load root: %w", err)
	default:
		m.root = common.BytesToHash(raw)
	}
	return m, nil
}

// Root returns the digest over every write applied so far.
func (m *Manager) Root() common.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root
}

// writer stages puts and deletes and tracks the digest they produce.
type writer struct {
	batch storage.Batch
	hash  []byte
}

func (m *Manager) newWriter() *writer {
	return &writer{batch: m.db.NewBatch(), hash: m.root.Bytes()}
}

func (w *writer) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	w.batch.Put(key, encoded)
	w.hash = ethcrypto.Keccak256(w.hash, key, ethcrypto.Keccak256(encoded))
	return nil
}

func (w *writer) delete(key []byte) {
	w.batch.Delete(key)
	w.hash = ethcrypto.Keccak256(w.hash, key)
}

// commit writes the staged batch together with the new digest.
func (m *Manager) commit(w *writer) error {
	if w.batch.Len() == 0 {
		return nil
	}
	root := common.BytesToHash(w.hash)
	w.batch.Put(rootKey, root.Bytes())
	if err := w.batch.Write(); err != nil {
		return fmt.Errorf("state: write batch: %w", err)
	}
	m.root = root
	return nil
}

func kvKey(key []byte) []byte {
	hashed := ethcrypto.Keccak256(key)
	buf := make([]byte, 0, len(kvPrefix)+len(hashed))
	buf = append(buf, kvPrefix...)
	return append(buf, hashed...)
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.newWriter()
	if err := w.put(kvKey(key), value); err != nil {
		return err
	}
	return m.commit(w)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := m.db.Get(kvKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key. Removing a missing key still advances the digest.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.newWriter()
	w.delete(kvKey(key))
	return m.commit(w)
}
