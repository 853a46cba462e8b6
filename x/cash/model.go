package cash

import (
	keep "github.com/trustkeep/keep"
	"github.com/trustkeep/keep/errors"
	"github.com/trustkeep/keep/orm"
)

// BucketName is where we store the balances.
const BucketName = "cash"

// Wallet is the balance of a single address.
type Wallet struct {
	Address keep.Address `json:"address"`
	Balance int64        `json:"balance"`
}

var _ orm.Model = (*Wallet)(nil)

// Validate ensures the wallet is consistent before every write.
func (w *Wallet) Validate() error {
	if err := w.Address.Validate(); err != nil {
		return errors.Wrap(err, "address")
	}
	if w.Balance < 0 {
		return errors.Wrapf(errors.ErrAmount, "negative balance: %d", w.Balance)
	}
	return nil
}

// NewBucket returns a bucket for keeping wallets, keyed by address.
func NewBucket() orm.Bucket {
	return orm.NewBucket(BucketName)
}
