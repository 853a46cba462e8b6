package keep

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/trustkeep/keep/errors"
)

// AddressLength is the length of all addresses in bytes.
const AddressLength = 20

// perm must have (?s) flags, otherwise it errors when the last section
// contains 0x20 (newline).
var perm = regexp.MustCompile(`(?s)^([a-zA-Z0-9_\-]{3,8})/([a-zA-Z0-9_\-]{3,8})/(.+)$`)

// Address represents the identity of a party or custody location. It is
// the collision resistant hash of whatever data identifies the owner.
type Address []byte

// NewAddress hashes and truncates into the proper size.
func NewAddress(data []byte) Address {
	if data == nil {
		return nil
	}
	h := sha256.Sum256(data)
	return h[:AddressLength]
}

// ParseAddress decodes a hex encoded address into its binary form.
func ParseAddress(enc string) (Address, error) {
	bz, err := hex.DecodeString(enc)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInput, "not a hex address: %q", enc)
	}
	addr := Address(bz)
	return addr, addr.Validate()
}

// Equals checks if two addresses are the same.
func (a Address) Equals(b Address) bool {
	return bytes.Equal(a, b)
}

// Validate returns an error if the address is not the proper size.
func (a Address) Validate() error {
	if len(a) != AddressLength {
		return errors.Wrapf(errors.ErrInput, "address length: %d", len(a))
	}
	return nil
}

// String returns a human readable hex representation.
func (a Address) String() string {
	if len(a) == 0 {
		return "(nil)"
	}
	return fmt.Sprintf("%X", []byte(a))
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Address) UnmarshalJSON(raw []byte) error {
	var enc string
	if err := json.Unmarshal(raw, &enc); err != nil {
		return errors.Wrap(err, "cannot decode json")
	}
	if len(enc) == 0 {
		*a = nil
		return nil
	}
	bz, err := hex.DecodeString(enc)
	if err != nil {
		return errors.Wrapf(errors.ErrInput, "not a hex address: %q", enc)
	}
	*a = bz
	return nil
}

// Condition is a specially formatted array, containing information on
// what custody location an address is derived from. It is of the format:
//
//	sprintf("%s/%s/%s", extension, type, data)
type Condition []byte

// NewCondition creates a condition for the given extension and type.
func NewCondition(ext, typ string, data []byte) Condition {
	pre := fmt.Sprintf("%s/%s/", ext, typ)
	return append([]byte(pre), data...)
}

// Address derives the address controlled by this condition.
func (c Condition) Address() Address {
	return NewAddress(c)
}

// Equals checks if two conditions are the same.
func (c Condition) Equals(b Condition) bool {
	return bytes.Equal(c, b)
}

// Validate returns an error if the condition is not the proper format.
func (c Condition) Validate() error {
	if !perm.Match(c) {
		return errors.Wrapf(errors.ErrInput, "condition: %X", []byte(c))
	}
	return nil
}

// String returns a human readable string. We keep the extension and type
// in ascii and hex-encode the binary data.
func (c Condition) String() string {
	chunks := perm.FindSubmatch(c)
	if len(chunks) == 0 {
		return fmt.Sprintf("Invalid Condition: %X", []byte(c))
	}
	return fmt.Sprintf("%s/%s/%X", chunks[1], chunks[2], chunks[3])
}
