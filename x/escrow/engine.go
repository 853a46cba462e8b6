package escrow

import (
	"context"
	"encoding/json"
	"sync"

	keep "github.com/trustkeep/keep"
	"github.com/trustkeep/keep/errors"
	"github.com/trustkeep/keep/orm"
	"github.com/trustkeep/keep/store"
	"github.com/trustkeep/keep/x/cash"
)

// Engine drives the escrow lifecycle. It owns the escrow bucket and
// delegates all fund movement to the ledger, which is the only party
// allowed to touch wallet balances.
//
// Operations on distinct escrows run concurrently. Operations on the
// same escrow are serialized by a per-escrow lock, so each observes the
// state left behind by the previous one.
type Engine struct {
	db     store.CacheableKVStore
	bucket orm.Bucket
	ledger cash.CoinMover
	clock  keep.Clock
	events *EventLog

	idMu sync.Mutex
	seq  orm.Sequence

	locks *lockRegistry
}

// NewEngine returns an engine persisting to db and settling funds
// through the given ledger. The clock is consulted on every deadline
// check.
func NewEngine(db store.CacheableKVStore, ledger cash.CoinMover, clock keep.Clock) *Engine {
	return &Engine{
		db:     db,
		bucket: NewBucket(),
		ledger: ledger,
		clock:  clock,
		events: NewEventLog(),
		seq:    orm.NewSequence(BucketName, "id"),
		locks:  newLockRegistry(),
	}
}

// Events returns all emitted events in emission order.
func (e *Engine) Events() []Event {
	return e.events.Events()
}

// Initialize opens a new escrow. The caller becomes the initializer and
// the full amount is moved from the caller wallet into the escrow vault
// before any record is written. On success the new escrow key is
// returned.
func (e *Engine) Initialize(ctx context.Context, caller keep.Address, msg *CreateMsg) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "context")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if err := caller.Validate(); err != nil {
		return nil, errors.Wrap(err, "caller")
	}
	if msg.Recipient.Equals(caller) {
		return nil, errors.Wrap(errors.ErrInput, "recipient must differ from initializer")
	}
	if now := e.clock.Now(); msg.Deadline <= now {
		return nil, errors.Wrapf(errors.ErrDeadline, "deadline %s must be in the future (now %s)", msg.Deadline, now)
	}

	e.idMu.Lock()
	key := e.seq.NextVal(e.db)
	e.idMu.Unlock()

	esc := &Escrow{
		Initializer: caller,
		Recipient:   msg.Recipient,
		Arbiter:     msg.Arbiter,
		Amount:      msg.Amount,
		Deadline:    msg.Deadline,
		Memo:        msg.Memo,
		Status:      StatusInitialized,
		Address:     Condition(key).Address(),
	}
	if err := esc.Validate(); err != nil {
		return nil, err
	}

	// Fund the vault first. A failed transfer must leave no record
	// behind, an unused sequence value is harmless.
	if err := e.ledger.MoveCoins(e.db, caller, esc.Address, esc.Amount); err != nil {
		return nil, errors.Wrap(err, "cannot fund vault")
	}
	if err := e.bucket.Put(e.db, key, esc); err != nil {
		return nil, err
	}
	e.emit(EventInitialized, key, esc, nil)
	return key, nil
}

// Withdraw releases the escrowed funds to the recipient. Only the
// recipient may call this, and only while the deadline has not passed.
func (e *Engine) Withdraw(ctx context.Context, caller keep.Address, id []byte) error {
	done := e.locks.acquire(id)
	defer done()

	esc, err := e.loadOpen(ctx, id)
	if err != nil {
		return err
	}
	if !caller.Equals(esc.Recipient) {
		return errors.Wrapf(errors.ErrUnauthorized, "%s is not the recipient", caller)
	}
	if now := e.clock.Now(); now > esc.Deadline {
		return errors.Wrapf(errors.ErrExpired, "deadline %s passed (now %s)", esc.Deadline, now)
	}
	return e.close(id, esc, esc.Recipient, StatusWithdrawn, EventWithdrawn, nil)
}

// Refund returns the escrowed funds to the initializer. Only the
// initializer may call this, and only once the deadline has passed.
func (e *Engine) Refund(ctx context.Context, caller keep.Address, id []byte) error {
	done := e.locks.acquire(id)
	defer done()

	esc, err := e.loadOpen(ctx, id)
	if err != nil {
		return err
	}
	if !caller.Equals(esc.Initializer) {
		return errors.Wrapf(errors.ErrUnauthorized, "%s is not the initializer", caller)
	}
	if now := e.clock.Now(); now <= esc.Deadline {
		return errors.Wrapf(errors.ErrNotExpired, "deadline %s not reached (now %s)", esc.Deadline, now)
	}
	return e.close(id, esc, esc.Initializer, StatusRefunded, EventRefunded, nil)
}

// Cancel aborts the escrow and returns the funds to the initializer.
// Only the initializer may call this, and only while the deadline has
// not passed. Past the deadline, Refund is the way out.
func (e *Engine) Cancel(ctx context.Context, caller keep.Address, id []byte) error {
	done := e.locks.acquire(id)
	defer done()

	esc, err := e.loadOpen(ctx, id)
	if err != nil {
		return err
	}
	if !caller.Equals(esc.Initializer) {
		return errors.Wrapf(errors.ErrUnauthorized, "%s is not the initializer", caller)
	}
	if now := e.clock.Now(); now > esc.Deadline {
		return errors.Wrapf(errors.ErrExpired, "deadline %s passed (now %s)", esc.Deadline, now)
	}
	return e.close(id, esc, esc.Initializer, StatusCancelled, EventCancelled, nil)
}

// Resolve settles the escrow by arbiter decision, regardless of the
// deadline. With release the funds go to the recipient and the escrow
// ends withdrawn, otherwise they return to the initializer and it ends
// refunded.
func (e *Engine) Resolve(ctx context.Context, caller keep.Address, id []byte, release bool) error {
	done := e.locks.acquire(id)
	defer done()

	esc, err := e.loadOpen(ctx, id)
	if err != nil {
		return err
	}
	if !caller.Equals(esc.Arbiter) {
		return errors.Wrapf(errors.ErrUnauthorized, "%s is not the arbiter", caller)
	}
	if release {
		return e.close(id, esc, esc.Recipient, StatusWithdrawn, EventResolved, esc.Recipient)
	}
	return e.close(id, esc, esc.Initializer, StatusRefunded, EventResolved, esc.Initializer)
}

// loadOpen fetches an escrow that is still waiting for its terminal
// transition. Callers must hold the escrow lock.
func (e *Engine) loadOpen(ctx context.Context, id []byte) (*Escrow, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "context")
	}
	var esc Escrow
	if err := e.bucket.One(e.db, id, &esc); err != nil {
		return nil, err
	}
	if esc.Status != StatusInitialized {
		return nil, errors.Wrapf(errors.ErrState, "escrow is %s", esc.Status)
	}
	return &esc, nil
}

// close performs the terminal transition: empty the vault into dest,
// flip the status, record the event. Callers must hold the escrow lock
// and have all authorization and time checks behind them.
func (e *Engine) close(id []byte, esc *Escrow, dest keep.Address, status Status, evType EventType, releasedTo keep.Address) error {
	if err := e.ledger.MoveCoins(e.db, esc.Address, dest, esc.Amount); err != nil {
		return errors.Wrap(err, "cannot release vault")
	}
	esc.Status = status
	if err := e.bucket.Put(e.db, id, esc); err != nil {
		return err
	}
	e.emit(evType, id, esc, releasedTo)
	return nil
}

func (e *Engine) emit(typ EventType, id []byte, esc *Escrow, releasedTo keep.Address) {
	e.events.emit(Event{
		Type:        typ,
		EscrowID:    append([]byte{}, id...),
		Initializer: esc.Initializer,
		Recipient:   esc.Recipient,
		Arbiter:     esc.Arbiter,
		Amount:      esc.Amount,
		ReleasedTo:  releasedTo,
		Time:        e.clock.Now(),
	})
}

// Stored pairs an escrow with its key for query results.
type Stored struct {
	ID     []byte  `json:"id"`
	Escrow *Escrow `json:"escrow"`
}

// Escrow returns the escrow stored under the given key, in whatever
// status it currently is.
func (e *Engine) Escrow(id []byte) (*Escrow, error) {
	var esc Escrow
	if err := e.bucket.One(e.db, id, &esc); err != nil {
		return nil, err
	}
	return &esc, nil
}

// List returns all escrows in ascending key order.
func (e *Engine) List() ([]Stored, error) {
	return e.scan(func(*Escrow) bool { return true })
}

// ByParty returns all escrows where the given address is the
// initializer, the recipient or the arbiter.
func (e *Engine) ByParty(addr keep.Address) ([]Stored, error) {
	if err := addr.Validate(); err != nil {
		return nil, errors.Wrap(err, "address")
	}
	return e.scan(func(esc *Escrow) bool {
		return addr.Equals(esc.Initializer) ||
			addr.Equals(esc.Recipient) ||
			addr.Equals(esc.Arbiter)
	})
}

func (e *Engine) scan(match func(*Escrow) bool) ([]Stored, error) {
	it := e.bucket.Iterator(e.db)
	defer it.Close()

	var out []Stored
	for ; it.Valid(); it.Next() {
		var esc Escrow
		if err := json.Unmarshal(it.Value(), &esc); err != nil {
			return nil, errors.Wrapf(errors.ErrDatabase, "cannot deserialize escrow: %s", err)
		}
		if !match(&esc) {
			continue
		}
		key := e.bucket.ParseKey(it.Key())
		out = append(out, Stored{
			ID:     append([]byte{}, key...),
			Escrow: &esc,
		})
	}
	return out, nil
}
