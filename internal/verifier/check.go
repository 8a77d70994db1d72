package verifier

import (
	"bytes"
	"fmt"
)

// Check is the outcome of one verification check. The zero value means the
// check never ran, which is distinct from a check that ran and failed.
type Check int8

const (
	NotEvaluated Check = iota
	Failed
	Passed
)

// CheckOf converts a boolean outcome into an evaluated Check.
func CheckOf(ok bool) Check {
	if ok {
		return Passed
	}
	return Failed
}

// Evaluated reports whether the check ran.
func (c Check) Evaluated() bool { return c != NotEvaluated }

// OK reports whether the check ran and passed.
func (c Check) OK() bool { return c == Passed }

func (c Check) String() string {
	switch c {
	case Passed:
		return "true"
	case Failed:
		return "false"
	default:
		return "not evaluated"
	}
}

// MarshalJSON encodes a Check as true, false or null.
func (c Check) MarshalJSON() ([]byte, error) {
	switch c {
	case Passed:
		return []byte("true"), nil
	case Failed:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes true, false or null.
func (c *Check) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true":
		*c = Passed
	case "false":
		*c = Failed
	case "null":
		*c = NotEvaluated
	default:
		return fmt.Errorf("invalid check value %s", data)
	}
	return nil
}
