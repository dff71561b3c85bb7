package util

import (
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid"
	"github.com/pkg/errors"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewULID returns a lowercase ULID. Ids created by the same process strictly increase, so test
// directories named after them list in creation order.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Now(), entropy).String())
}

// NewULIDFrom returns a lowercase ULID whose random part is read from entropy.
func NewULIDFrom(entropy io.Reader) (string, error) {
	id, err := ulid.New(ulid.Now(), entropy)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return strings.ToLower(id.String()), nil
}
