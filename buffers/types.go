package buffers

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// ID identifies one logical consumer buffer of a producing task.
type ID uint32

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Type is the consumer-selection policy of a DestinationSet.
type Type int

const (
	// Broadcast sends every page to all buffers.
	Broadcast Type = iota
	// Arbitrary sends each page to any one buffer. The set can grow while the task runs.
	Arbitrary
	// Partitioned sends each page to the buffer owning its partition key.
	Partitioned
)

var typeNames = map[Type]string{
	Broadcast:   "BROADCAST",
	Arbitrary:   "ARBITRARY",
	Partitioned: "PARTITIONED",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType parses the name of a Type, as returned by Type.String.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, errors.Errorf("unknown buffer type: %s", s)
}
