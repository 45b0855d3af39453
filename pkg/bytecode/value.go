package bytecode

import (
	"fmt"
	"strconv"
)

// Special constants. Fixnums carry their low bit set.
const (
	Qfalse uint64 = 0x00
	Qnil   uint64 = 0x08
	Qtrue  uint64 = 0x14
	Qundef uint64 = 0x24
)

// Fix encodes n as a fixnum word
func Fix(n int64) uint64 {
	return uint64(n)<<1 | 1
}

// IsFix reports whether v is a fixnum
func IsFix(v uint64) bool {
	return v&1 == 1
}

// FixValue decodes a fixnum word
func FixValue(v uint64) int64 {
	return int64(v) >> 1
}

// Bool encodes b as Qtrue or Qfalse
func Bool(b bool) uint64 {
	if b {
		return Qtrue
	}
	return Qfalse
}

// Truthy reports whether v counts as true for a conditional branch.
// Only Qfalse and Qnil are falsy; they differ from every other value in
// the bits outside Qnil.
func Truthy(v uint64) bool {
	return v&^Qnil != 0
}

// Inspect renders a value as a literal
func Inspect(v uint64) string {
	switch {
	case IsFix(v):
		return strconv.FormatInt(FixValue(v), 10)
	case v == Qfalse:
		return "false"
	case v == Qnil:
		return "nil"
	case v == Qtrue:
		return "true"
	case v == Qundef:
		return "undef"
	default:
		return fmt.Sprintf("0x%x", v)
	}
}

// ParseValue is the inverse of Inspect for literals
func ParseValue(s string) (uint64, error) {
	switch s {
	case "true":
		return Qtrue, nil
	case "false":
		return Qfalse, nil
	case "nil":
		return Qnil, nil
	}

	n, err := strconv.ParseInt(s, 10, 62)
	if err != nil {
		return 0, fmt.Errorf("invalid literal %q: %w", s, err)
	}
	return Fix(n), nil
}
