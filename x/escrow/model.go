package escrow

import (
	keep "github.com/trustkeep/keep"
	"github.com/trustkeep/keep/errors"
	"github.com/trustkeep/keep/orm"
)

// BucketName is where we store the escrows.
const BucketName = "esc"

// Status is the lifecycle state of an escrow. It starts as
// StatusInitialized and moves exactly once into one of the terminal
// states, never back.
type Status int8

const (
	// StatusInitialized means the vault is funded and the escrow is
	// waiting for a terminal transition.
	StatusInitialized Status = iota + 1
	// StatusWithdrawn means the funds went to the recipient.
	StatusWithdrawn
	// StatusRefunded means the funds went back to the initializer after
	// the deadline, or by arbiter decision.
	StatusRefunded
	// StatusCancelled means the initializer reclaimed the funds before
	// the deadline.
	StatusCancelled
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusWithdrawn:
		return "withdrawn"
	case StatusRefunded:
		return "refunded"
	case StatusCancelled:
		return "cancelled"
	default:
		return "invalid"
	}
}

// Validate returns an error if this is not a declared status value.
func (s Status) Validate() error {
	switch s {
	case StatusInitialized, StatusWithdrawn, StatusRefunded, StatusCancelled:
		return nil
	default:
		return errors.Wrapf(errors.ErrState, "unknown status: %d", s)
	}
}

// Terminal returns true for statuses that can never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusWithdrawn, StatusRefunded, StatusCancelled:
		return true
	default:
		return false
	}
}

// Escrow is the sole persistent entity of the engine. Amount, Deadline
// and all three parties are immutable after creation, only Status ever
// changes.
type Escrow struct {
	Initializer keep.Address  `json:"initializer"`
	Recipient   keep.Address  `json:"recipient"`
	Arbiter     keep.Address  `json:"arbiter"`
	Amount      int64         `json:"amount"`
	Deadline    keep.UnixTime `json:"deadline"`
	Memo        string        `json:"memo,omitempty"`
	Status      Status        `json:"status"`
	// Address is the custody location holding Amount units while the
	// status is initialized.
	Address keep.Address `json:"address"`
}

var _ orm.Model = (*Escrow)(nil)

// Validate ensures the escrow is valid.
func (e *Escrow) Validate() error {
	if err := e.Initializer.Validate(); err != nil {
		return errors.Wrap(err, "initializer")
	}
	if err := e.Recipient.Validate(); err != nil {
		return errors.Wrap(err, "recipient")
	}
	if err := e.Arbiter.Validate(); err != nil {
		return errors.Wrap(err, "arbiter")
	}
	if e.Recipient.Equals(e.Initializer) {
		return errors.Wrap(errors.ErrInput, "recipient must differ from initializer")
	}
	if e.Amount <= 0 {
		return errors.Wrapf(errors.ErrAmount, "non-positive amount: %d", e.Amount)
	}
	if e.Deadline == 0 {
		// Zero deadline is a valid value that dates to 1970-01-01. We
		// know that this value is in the past and makes no sense. Most
		// likely value was not provided and a zero value remained.
		return errors.Wrap(errors.ErrDeadline, "deadline is required")
	}
	if err := e.Deadline.Validate(); err != nil {
		return errors.Wrap(err, "invalid deadline value")
	}
	if len(e.Memo) > maxMemoSize {
		return errors.Wrapf(errors.ErrInput, "memo %s", e.Memo)
	}
	if err := e.Status.Validate(); err != nil {
		return errors.Wrap(err, "status")
	}
	return errors.Wrap(e.Address.Validate(), "address")
}

// Condition calculates the vault condition of an escrow given its key.
// The derived address is the custody location of the escrowed funds.
func Condition(key []byte) keep.Condition {
	return keep.NewCondition("escrow", "seq", key)
}

// NewBucket returns a bucket for keeping escrows, keyed by their
// sequence value.
func NewBucket() orm.Bucket {
	return orm.NewBucket(BucketName)
}
