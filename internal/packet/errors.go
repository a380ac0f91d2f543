package packet

import "fmt"

// FormatError reports a datagram whose fixed fields do not match the E1.31 layout.
type FormatError struct {
	Field string // Field is the name of the offending field.
	Got   uint32 // Got is the value found in the datagram.
	Want  uint32 // Want is the expected value.
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("packet: invalid %s: got %#x, want %#x", e.Field, e.Got, e.Want)
}
