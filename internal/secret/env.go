package secret

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// DefaultPrefix is prepended to every key looked up in the environment.
const DefaultPrefix = "INGEST_SECRET_"

// EnvStore implements SecretStore over environment variables. Keys map to
// PREFIX + upper-cased key with non-alphanumerics replaced by '_', so
// "destination_ab-12" reads INGEST_SECRET_DESTINATION_AB_12.
// Set only lasts for the life of the process.
type EnvStore struct {
	prefix string
	mu     sync.Mutex
}

// NewEnvStore creates an EnvStore. An empty prefix means DefaultPrefix.
func NewEnvStore(prefix string) *EnvStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &EnvStore{prefix: prefix}
}

// Var returns the environment variable name for key.
func (s *EnvStore) Var(key string) string {
	var b strings.Builder
	b.WriteString(s.prefix)
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (s *EnvStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Setenv(s.Var(key), string(value)); err != nil {
		return fmt.Errorf("env set: %w", err)
	}
	return nil
}

func (s *EnvStore) Get(key string) ([]byte, error) {
	v, ok := os.LookupEnv(s.Var(key))
	if !ok {
		return nil, nil
	}
	return []byte(v), nil
}

func (s *EnvStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.Unsetenv(s.Var(key))
}
