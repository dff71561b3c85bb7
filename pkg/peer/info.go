package peer

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Info identifies a peer. It is fixed for the lifetime of a test iteration.
type Info struct {
	Id    string
	Role  Role
	Host  string
	Group string
}

// NewInfo creates the identity of the current process.
func NewInfo(role Role, group string) Info {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return Info{
		Id:    uuid.New().String(),
		Role:  role,
		Host:  host,
		Group: group,
	}
}

// WithRole returns a copy of the identity with a different role.
func (info Info) WithRole(role Role) Info {
	info.Role = role
	return info
}

func (info Info) PrettyName() string {
	return fmt.Sprintf("%s@%s", info.Role.Topic(), info.Host)
}

func (info Info) String() string {
	return fmt.Sprintf("%s (%s)", info.PrettyName(), info.Id)
}
