package flatten

import (
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// SyntheticPrefix marks identifiers manufactured by the engine.
const SyntheticPrefix = "gen-"

// KeyGenerator produces unique identifiers for rows whose source omits one.
// Implementations must be safe for concurrent use.
type KeyGenerator interface {
	NewKey() string
}

// KeyFunc adapts a plain function to the KeyGenerator interface.
type KeyFunc func() string

func (f KeyFunc) NewKey() string { return f() }

// UUIDKeys is the default process-wide generator: "gen-" + a random UUIDv4.
var UUIDKeys KeyGenerator = KeyFunc(func() string {
	return SyntheticPrefix + uuid.NewString()
})

// SeededKeys returns a deterministic generator. Two generators built from
// the same seed yield the same key sequence, which makes decomposition
// output reproducible in tests.
func SeededKeys(seed int64) KeyGenerator {
	var mu sync.Mutex
	r := rand.New(rand.NewSource(seed))
	return KeyFunc(func() string {
		mu.Lock()
		defer mu.Unlock()
		id, err := uuid.NewRandomFromReader(r)
		if err != nil {
			return SyntheticPrefix + uuid.NewString()
		}
		return SyntheticPrefix + id.String()
	})
}

// IsSynthetic reports whether v is a key manufactured by a KeyGenerator
// from this package.
func IsSynthetic(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, SyntheticPrefix)
}
