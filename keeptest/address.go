package keeptest

import (
	"crypto/rand"

	keep "github.com/trustkeep/keep"
)

// NewAddress returns a random address that represents a unique party in
// a test. Each call returns a different address.
func NewAddress() keep.Address {
	data := make([]byte, 32)
	if _, err := rand.Read(data); err != nil {
		panic(err)
	}
	return keep.NewAddress(data)
}
