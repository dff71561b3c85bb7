package report

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/G-Research/maestro/pkg/peer"
)

// ResultType is the outcome of a test as far as the report layout is concerned.
type ResultType int

const (
	Success ResultType = iota
	Failed
)

func (r ResultType) String() string {
	if r == Success {
		return "success"
	}
	return "failed"
}

func ResultOf(success bool) ResultType {
	if success {
		return Success
	}
	return Failed
}

// Organizer decides where the downloaded logs of a peer are stored.
type Organizer struct {
	Base string
}

func NewOrganizer(base string) Organizer {
	return Organizer{Base: base}
}

// Organize returns <base>/<role>/<success|failed>/<testId>/<testNumber>/<host>.
func (o Organizer) Organize(info peer.Info, result ResultType, testId string, testNumber int64) string {
	host := info.Host
	if host == "" {
		host = info.Id
	}
	return filepath.Join(o.Base, info.Role.Topic(), result.String(), testId, strconv.FormatInt(testNumber, 10), host)
}

// Place returns an unused directory for the logs of info. Peers sharing a role and a host get
// <host>-<short id> after the first one, so their logs never overwrite each other.
func (o Organizer) Place(info peer.Info, result ResultType, testId string, testNumber int64) (string, error) {
	dest := o.Organize(info, result, testId, testNumber)
	for _, candidate := range []string{dest, dest + "-" + shortId(info.Id)} {
		_, err := os.Lstat(candidate)
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", errors.WithStack(err)
		}
	}
	return "", errors.Errorf("logs of %s are already archived under %s", info.PrettyName(), filepath.Dir(dest))
}

func shortId(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// TestDir is the directory holding the logs of every peer of one test iteration for a role.
func (o Organizer) TestDir(role peer.Role, result ResultType, testId string, testNumber int64) string {
	return filepath.Join(o.Base, role.Topic(), result.String(), testId, strconv.FormatInt(testNumber, 10))
}
