package params

import (
	"math/rand"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/G-Research/maestro/internal/common/maestroerrors"
)

// MinMessageSize fits the send timestamp carried at the head of every payload.
const MinMessageSize = 8

// variance of variable message sizes, as a fraction of the base size.
const sizeVariance = 0.05

// MessageSize is either a fixed size ("256") or a size varying around a base ("~256").
type MessageSize struct {
	Base     int
	Variable bool
}

func FixedSize(n int) MessageSize {
	return MessageSize{Base: n}
}

func ParseMessageSize(s string) (MessageSize, error) {
	s = strings.TrimSpace(s)
	variable := strings.HasPrefix(s, "~")
	n, err := strconv.Atoi(strings.TrimPrefix(s, "~"))
	if err != nil {
		return MessageSize{}, errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "messageSize",
			Value:   s,
			Message: "expected a byte count such as 256 or ~256",
		})
	}
	if n < MinMessageSize {
		return MessageSize{}, errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "messageSize",
			Value:   s,
			Message: "message size must be at least " + strconv.Itoa(MinMessageSize) + " bytes",
		})
	}
	return MessageSize{Base: n, Variable: variable}, nil
}

// Next returns the size of the next message.
func (m MessageSize) Next(r *rand.Rand) int {
	if !m.Variable {
		return m.Base
	}
	spread := int(float64(m.Base) * sizeVariance)
	if spread == 0 {
		return m.Base
	}
	n := m.Base - spread + r.Intn(2*spread+1)
	if n < MinMessageSize {
		return MinMessageSize
	}
	return n
}

func (m MessageSize) String() string {
	if m.Variable {
		return "~" + strconv.Itoa(m.Base)
	}
	return strconv.Itoa(m.Base)
}
