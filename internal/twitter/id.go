package twitter

import (
	"bytes"
	"fmt"
	"strconv"
)

// ID is a snowflake id. It is kept as an exact unsigned integer: ids exceed
// the range a float64 represents exactly, so they are never decoded as one.
type ID uint64

// ParseID parses the decimal form used by the upstream "*_str" fields.
func ParseID(s string) (ID, error) {
	if s == "" {
		return 0, nil
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing id %q: %w", s, err)
	}

	return ID(n), nil
}

func (id ID) IsZero() bool {
	return id == 0
}

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// MarshalJSON writes the id as a string so JSON consumers don't round it.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(id.String())), nil
}

// UnmarshalJSON accepts both the quoted and the bare numeric form.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = 0
		return nil
	}
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		b = b[1 : len(b)-1]
	}

	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed

	return nil
}
