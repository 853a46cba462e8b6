package cash

import (
	"math"
	"sync"

	keep "github.com/trustkeep/keep"
	"github.com/trustkeep/keep/errors"
	"github.com/trustkeep/keep/orm"
	"github.com/trustkeep/keep/store"
)

// CoinMover is the capability to move funds between two custody
// locations. This is the only ledger primitive the escrow engine
// consumes.
type CoinMover interface {
	// MoveCoins transfers amount units from src to dest. The transfer
	// is atomic: either the full amount moves or, on error, nothing
	// does.
	MoveCoins(db store.KVStore, src, dest keep.Address, amount int64) error
}

// CoinMinter is the capability to create funds out of thin air. Only
// genesis initialization and tests should hold this.
type CoinMinter interface {
	IssueCoins(db store.KVStore, dest keep.Address, amount int64) error
}

// BalanceReader is the capability to inspect a wallet balance.
type BalanceReader interface {
	Balance(db store.ReadOnlyKVStore, addr keep.Address) (int64, error)
}

// Controller is the ledger implementation over a wallet bucket. It
// serializes mutating calls so concurrent transfers touching the same
// wallet cannot observe stale balances.
type Controller struct {
	mu     sync.Mutex
	bucket orm.Bucket
}

var _ CoinMover = (*Controller)(nil)
var _ CoinMinter = (*Controller)(nil)
var _ BalanceReader = (*Controller)(nil)

// NewController returns a controller operating on the standard wallet
// bucket.
func NewController() *Controller {
	return &Controller{bucket: NewBucket()}
}

// MoveCoins moves the given amount from src to dest. If src doesn't
// exist, or doesn't have sufficient funds, it fails with ErrTransfer and
// no wallet is changed.
func (c *Controller) MoveCoins(db store.KVStore, src, dest keep.Address, amount int64) error {
	if amount <= 0 {
		return errors.Wrapf(errors.ErrAmount, "non-positive transfer: %d", amount)
	}
	if err := src.Validate(); err != nil {
		return errors.Wrap(err, "source")
	}
	if err := dest.Validate(); err != nil {
		return errors.Wrap(err, "destination")
	}
	if src.Equals(dest) {
		return errors.Wrap(errors.ErrInput, "transfer to self")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sender, err := c.wallet(db, src)
	if err != nil {
		return err
	}
	if sender == nil {
		return errors.Wrapf(errors.ErrTransfer, "empty account: %s", src)
	}
	if sender.Balance < amount {
		return errors.Wrapf(errors.ErrTransfer, "insufficient funds: have %d, need %d", sender.Balance, amount)
	}

	recipient, err := c.wallet(db, dest)
	if err != nil {
		return err
	}
	if recipient == nil {
		recipient = &Wallet{Address: dest}
	}
	if recipient.Balance > math.MaxInt64-amount {
		return errors.Wrapf(errors.ErrTransfer, "destination balance overflow: %s", dest)
	}

	// All checks done, mutate both wallets.
	sender.Balance -= amount
	recipient.Balance += amount
	if err := c.bucket.Put(db, src, sender); err != nil {
		return err
	}
	return c.bucket.Put(db, dest, recipient)
}

// IssueCoins attempts to add the given amount of funds to the
// destination address. Fails if it overflows the wallet.
//
// Note the amount may also be negative:
// "the lord giveth and the lord taketh away"
func (c *Controller) IssueCoins(db store.KVStore, dest keep.Address, amount int64) error {
	if err := dest.Validate(); err != nil {
		return errors.Wrap(err, "destination")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	recipient, err := c.wallet(db, dest)
	if err != nil {
		return err
	}
	if recipient == nil {
		recipient = &Wallet{Address: dest}
	}
	if amount > 0 && recipient.Balance > math.MaxInt64-amount {
		return errors.Wrapf(errors.ErrOverflow, "wallet balance: %s", dest)
	}
	if recipient.Balance+amount < 0 {
		return errors.Wrapf(errors.ErrAmount, "cannot take more than the wallet holds: %s", dest)
	}
	recipient.Balance += amount
	return c.bucket.Put(db, dest, recipient)
}

// Balance returns the current balance of the given address. A wallet
// that was never funded reports a zero balance.
func (c *Controller) Balance(db store.ReadOnlyKVStore, addr keep.Address) (int64, error) {
	if err := addr.Validate(); err != nil {
		return 0, errors.Wrap(err, "address")
	}
	w, err := c.wallet(db, addr)
	if err != nil {
		return 0, err
	}
	if w == nil {
		return 0, nil
	}
	return w.Balance, nil
}

// wallet loads a wallet or returns nil if it does not exist yet.
func (c *Controller) wallet(db store.ReadOnlyKVStore, addr keep.Address) (*Wallet, error) {
	var w Wallet
	switch err := c.bucket.One(db, addr, &w); {
	case err == nil:
		return &w, nil
	case errors.ErrNotFound.Is(err):
		return nil, nil
	default:
		return nil, err
	}
}
