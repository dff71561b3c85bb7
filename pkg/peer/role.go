package peer

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/G-Research/maestro/internal/common/maestroerrors"
)

// Role is the function a peer performs during a test.
type Role int32

const (
	Other Role = iota
	Sender
	Receiver
	Inspector
	Agent
	Exporter
)

var roleNames = map[Role]string{
	Other:     "OTHER",
	Sender:    "SENDER",
	Receiver:  "RECEIVER",
	Inspector: "INSPECTOR",
	Agent:     "AGENT",
	Exporter:  "EXPORTER",
}

// AllRoles lists every role in code order.
var AllRoles = []Role{Other, Sender, Receiver, Inspector, Agent, Exporter}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "UNKNOWN"
}

// Code is the numeric value written to the wire and to telemetry file headers.
func (r Role) Code() int32 {
	return int32(r)
}

// Topic is the lower-case name used for role-wide topics and directory names.
func (r Role) Topic() string {
	return strings.ToLower(r.String())
}

// IsWorker reports whether peers with this role produce or consume load.
func (r Role) IsWorker() bool {
	return r == Sender || r == Receiver
}

func ParseRole(s string) (Role, error) {
	for role, name := range roleNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return role, nil
		}
	}
	return Other, errors.WithStack(&maestroerrors.ErrInvalidArgument{
		Name:    "role",
		Value:   s,
		Message: "expected one of SENDER, RECEIVER, INSPECTOR, AGENT, EXPORTER, OTHER",
	})
}

func RoleFromCode(code int32) (Role, error) {
	role := Role(code)
	if _, ok := roleNames[role]; !ok {
		return Other, errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "roleCode",
			Value:   code,
			Message: "unknown role code",
		})
	}
	return role, nil
}
