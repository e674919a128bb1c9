package passphrase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func stubbed(env map[string]string, tty bool, typed string, readErr error) *Source {
	s := NewSource("API_SECRET", "API token secret")
	s.lookup = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s.terminal = func() bool { return tty }
	s.read = func() ([]byte, error) { return []byte(typed), readErr }
	return s
}

func TestSourcePrefersEnvironment(t *testing.T) {
	s := stubbed(map[string]string{"API_SECRET": " hunter2 "}, true, "typed", nil)
	value, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", value)
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	_, err := stubbed(map[string]string{"API_SECRET": "  "}, true, "typed", nil).Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestSourcePromptsOnTerminal(t *testing.T) {
	s := stubbed(nil, true, "typed", nil)
	value, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, "typed", value)

	s.read = func() ([]byte, error) { return []byte("other"), nil }
	value, err = s.Get()
	require.NoError(t, err)
	require.Equal(t, "typed", value, "value is cached")
}

func TestSourceFailures(t *testing.T) {
	_, err := stubbed(nil, false, "", nil).Get()
	require.ErrorContains(t, err, "API_SECRET")

	_, err = stubbed(nil, true, "   ", nil).Get()
	require.ErrorContains(t, err, "cannot be empty")

	_, err = stubbed(nil, true, "", errors.New("tty closed")).Get()
	require.ErrorContains(t, err, "tty closed")
}
