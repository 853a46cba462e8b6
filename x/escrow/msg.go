package escrow

import (
	keep "github.com/trustkeep/keep"
	"github.com/trustkeep/keep/errors"
)

const maxMemoSize int = 128

// CreateMsg carries everything needed to open a new escrow. The caller
// of Engine.Initialize becomes the initializer and funds the vault.
type CreateMsg struct {
	Recipient keep.Address  `json:"recipient"`
	Arbiter   keep.Address  `json:"arbiter"`
	Amount    int64         `json:"amount"`
	Deadline  keep.UnixTime `json:"deadline"`
	Memo      string        `json:"memo,omitempty"`
}

// Validate checks everything that does not require the caller address or
// the current time. Deadline being in the future is enforced by the
// engine, which owns the clock.
func (m *CreateMsg) Validate() error {
	if err := m.Recipient.Validate(); err != nil {
		return errors.Wrap(err, "recipient")
	}
	if err := m.Arbiter.Validate(); err != nil {
		return errors.Wrap(err, "arbiter")
	}
	if m.Amount <= 0 {
		return errors.Wrapf(errors.ErrAmount, "non-positive amount: %d", m.Amount)
	}
	if m.Deadline == 0 {
		return errors.Wrap(errors.ErrDeadline, "deadline is required")
	}
	if err := m.Deadline.Validate(); err != nil {
		return errors.Wrap(err, "invalid deadline value")
	}
	if len(m.Memo) > maxMemoSize {
		return errors.Wrapf(errors.ErrInput, "memo %s", m.Memo)
	}
	return nil
}
