package escrow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	keep "github.com/trustkeep/keep"
	"github.com/trustkeep/keep/errors"
	"github.com/trustkeep/keep/keeptest"
	"github.com/trustkeep/keep/store"
	"github.com/trustkeep/keep/x/cash"
)

const startTime keep.UnixTime = 1_700_000_000

type testEnv struct {
	engine *Engine
	db     store.CacheableKVStore
	ledger *cash.Controller
	clock  *keeptest.Clock

	alice keep.Address // the initializer, funded
	bob   keep.Address // the recipient
	carl  keep.Address // the arbiter
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()

	env := &testEnv{
		db:     store.Sync(store.MemStore()),
		ledger: cash.NewController(),
		clock:  keeptest.NewClock(startTime),
		alice:  keeptest.NewAddress(),
		bob:    keeptest.NewAddress(),
		carl:   keeptest.NewAddress(),
	}
	env.engine = NewEngine(env.db, env.ledger, env.clock)
	require.NoError(t, env.ledger.IssueCoins(env.db, env.alice, 1000))
	return env
}

func (env *testEnv) balance(t testing.TB, addr keep.Address) int64 {
	t.Helper()
	b, err := env.ledger.Balance(env.db, addr)
	require.NoError(t, err)
	return b
}

func (env *testEnv) initialize(t testing.TB, amount int64, deadline keep.UnixTime) []byte {
	t.Helper()
	id, err := env.engine.Initialize(context.Background(), env.alice, &CreateMsg{
		Recipient: env.bob,
		Arbiter:   env.carl,
		Amount:    amount,
		Deadline:  deadline,
	})
	require.NoError(t, err)
	return id
}

func TestInitialize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.engine.Initialize(ctx, env.alice, &CreateMsg{
		Recipient: env.bob,
		Arbiter:   env.carl,
		Amount:    400,
		Deadline:  startTime + 100,
		Memo:      "roof repair",
	})
	require.NoError(t, err)

	esc, err := env.engine.Escrow(id)
	require.NoError(t, err)
	assert.Equal(t, StatusInitialized, esc.Status)
	assert.Equal(t, env.alice, esc.Initializer)
	assert.Equal(t, env.bob, esc.Recipient)
	assert.Equal(t, env.carl, esc.Arbiter)
	assert.Equal(t, int64(400), esc.Amount)
	assert.Equal(t, startTime+100, esc.Deadline)
	assert.Equal(t, Condition(id).Address(), esc.Address)

	// Funds moved out of the initializer wallet into the vault.
	assert.Equal(t, int64(600), env.balance(t, env.alice))
	assert.Equal(t, int64(400), env.balance(t, esc.Address))

	events := env.engine.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventInitialized, events[0].Type)
	assert.Equal(t, id, events[0].EscrowID)
	assert.Equal(t, int64(400), events[0].Amount)
	assert.NotEmpty(t, events[0].ID)
}

func TestInitializeRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := map[string]struct {
		caller  keep.Address
		msg     CreateMsg
		wantErr *errors.Error
	}{
		"zero amount": {
			caller:  env.alice,
			msg:     CreateMsg{Recipient: env.bob, Arbiter: env.carl, Amount: 0, Deadline: startTime + 100},
			wantErr: errors.ErrAmount,
		},
		"negative amount": {
			caller:  env.alice,
			msg:     CreateMsg{Recipient: env.bob, Arbiter: env.carl, Amount: -10, Deadline: startTime + 100},
			wantErr: errors.ErrAmount,
		},
		"deadline in the past": {
			caller:  env.alice,
			msg:     CreateMsg{Recipient: env.bob, Arbiter: env.carl, Amount: 10, Deadline: startTime - 1},
			wantErr: errors.ErrDeadline,
		},
		"deadline exactly now": {
			caller:  env.alice,
			msg:     CreateMsg{Recipient: env.bob, Arbiter: env.carl, Amount: 10, Deadline: startTime},
			wantErr: errors.ErrDeadline,
		},
		"recipient is the initializer": {
			caller:  env.alice,
			msg:     CreateMsg{Recipient: env.alice, Arbiter: env.carl, Amount: 10, Deadline: startTime + 100},
			wantErr: errors.ErrInput,
		},
		"unfunded initializer": {
			caller:  env.bob,
			msg:     CreateMsg{Recipient: env.carl, Arbiter: env.alice, Amount: 10, Deadline: startTime + 100},
			wantErr: errors.ErrTransfer,
		},
		"amount above balance": {
			caller:  env.alice,
			msg:     CreateMsg{Recipient: env.bob, Arbiter: env.carl, Amount: 1001, Deadline: startTime + 100},
			wantErr: errors.ErrTransfer,
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			msg := tc.msg
			id, err := env.engine.Initialize(ctx, tc.caller, &msg)
			if !tc.wantErr.Is(err) {
				t.Fatalf("unexpected error: %+v", err)
			}
			assert.Nil(t, id)
		})
	}

	// No partial effects: balances untouched, no record, no event.
	assert.Equal(t, int64(1000), env.balance(t, env.alice))
	assert.Equal(t, int64(0), env.balance(t, env.bob))
	list, err := env.engine.List()
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, env.engine.Events())
}

func TestWithdrawBeforeDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.initialize(t, 400, startTime+100)
	env.clock.Advance(50 * time.Second)

	require.NoError(t, env.engine.Withdraw(ctx, env.bob, id))

	esc, err := env.engine.Escrow(id)
	require.NoError(t, err)
	assert.Equal(t, StatusWithdrawn, esc.Status)
	assert.Equal(t, int64(600), env.balance(t, env.alice))
	assert.Equal(t, int64(400), env.balance(t, env.bob))
	assert.Equal(t, int64(0), env.balance(t, esc.Address))

	events := env.engine.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventInitialized, events[0].Type)
	assert.Equal(t, EventWithdrawn, events[1].Type)
}

func TestWithdrawAtDeadline(t *testing.T) {
	// The deadline second itself still belongs to the withdraw window.
	env := newTestEnv(t)
	id := env.initialize(t, 100, startTime+100)
	env.clock.Set(startTime + 100)

	require.NoError(t, env.engine.Withdraw(context.Background(), env.bob, id))
	assert.Equal(t, int64(100), env.balance(t, env.bob))
}

func TestRefundAfterDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.initialize(t, 400, startTime+100)
	env.clock.Set(startTime + 101)

	// Too late for the recipient.
	err := env.engine.Withdraw(ctx, env.bob, id)
	require.True(t, errors.ErrExpired.Is(err), "unexpected error: %+v", err)

	require.NoError(t, env.engine.Refund(ctx, env.alice, id))

	esc, err := env.engine.Escrow(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, esc.Status)
	assert.Equal(t, int64(1000), env.balance(t, env.alice))
	assert.Equal(t, int64(0), env.balance(t, env.bob))
	assert.Equal(t, int64(0), env.balance(t, esc.Address))

	events := env.engine.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventRefunded, events[1].Type)
}

func TestRefundBeforeDeadline(t *testing.T) {
	env := newTestEnv(t)
	id := env.initialize(t, 100, startTime+100)

	// At and before the deadline a refund is premature.
	for _, now := range []keep.UnixTime{startTime + 10, startTime + 100} {
		env.clock.Set(now)
		err := env.engine.Refund(context.Background(), env.alice, id)
		require.True(t, errors.ErrNotExpired.Is(err), "unexpected error: %+v", err)
	}
	assert.Equal(t, int64(900), env.balance(t, env.alice))
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.initialize(t, 250, startTime+100)
	env.clock.Set(startTime + 100)

	require.NoError(t, env.engine.Cancel(ctx, env.alice, id))

	esc, err := env.engine.Escrow(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, esc.Status)
	assert.Equal(t, int64(1000), env.balance(t, env.alice))

	events := env.engine.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventCancelled, events[1].Type)
}

func TestCancelAfterDeadline(t *testing.T) {
	env := newTestEnv(t)
	id := env.initialize(t, 100, startTime+100)
	env.clock.Set(startTime + 101)

	err := env.engine.Cancel(context.Background(), env.alice, id)
	require.True(t, errors.ErrExpired.Is(err), "unexpected error: %+v", err)
	// Past the deadline the funds come back via Refund instead.
	require.NoError(t, env.engine.Refund(context.Background(), env.alice, id))
	assert.Equal(t, int64(1000), env.balance(t, env.alice))
}

func TestResolve(t *testing.T) {
	cases := map[string]struct {
		release      bool
		wantStatus   Status
		wantAliceBal int64
		wantBobBal   int64
	}{
		"release to recipient": {
			release:      true,
			wantStatus:   StatusWithdrawn,
			wantAliceBal: 700,
			wantBobBal:   300,
		},
		"return to initializer": {
			release:      false,
			wantStatus:   StatusRefunded,
			wantAliceBal: 1000,
			wantBobBal:   0,
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			env := newTestEnv(t)
			id := env.initialize(t, 300, startTime+100)

			// The arbiter is not bound by the deadline.
			env.clock.Set(startTime + 5000)
			require.NoError(t, env.engine.Resolve(context.Background(), env.carl, id, tc.release))

			esc, err := env.engine.Escrow(id)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, esc.Status)
			assert.Equal(t, tc.wantAliceBal, env.balance(t, env.alice))
			assert.Equal(t, tc.wantBobBal, env.balance(t, env.bob))

			events := env.engine.Events()
			require.Len(t, events, 2)
			assert.Equal(t, EventResolved, events[1].Type)
			if tc.release {
				assert.Equal(t, env.bob, events[1].ReleasedTo)
			} else {
				assert.Equal(t, env.alice, events[1].ReleasedTo)
			}
		})
	}
}

func TestUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.initialize(t, 100, startTime+100)
	stranger := keeptest.NewAddress()

	cases := map[string]func() error{
		"withdraw by initializer": func() error { return env.engine.Withdraw(ctx, env.alice, id) },
		"withdraw by arbiter":     func() error { return env.engine.Withdraw(ctx, env.carl, id) },
		"withdraw by stranger":    func() error { return env.engine.Withdraw(ctx, stranger, id) },
		"cancel by recipient":     func() error { return env.engine.Cancel(ctx, env.bob, id) },
		"cancel by stranger":      func() error { return env.engine.Cancel(ctx, stranger, id) },
		"refund by recipient":     func() error { return env.engine.Refund(ctx, env.bob, id) },
		"resolve by initializer":  func() error { return env.engine.Resolve(ctx, env.alice, id, true) },
		"resolve by recipient":    func() error { return env.engine.Resolve(ctx, env.bob, id, false) },
		"resolve by stranger":     func() error { return env.engine.Resolve(ctx, stranger, id, true) },
	}

	for testName, op := range cases {
		t.Run(testName, func(t *testing.T) {
			err := op()
			if !errors.ErrUnauthorized.Is(err) {
				t.Fatalf("unexpected error: %+v", err)
			}
		})
	}

	// Authorization failures leave the escrow open and funded.
	esc, err := env.engine.Escrow(id)
	require.NoError(t, err)
	assert.Equal(t, StatusInitialized, esc.Status)
	assert.Equal(t, int64(100), env.balance(t, esc.Address))
	assert.Len(t, env.engine.Events(), 1)
}

func TestTerminalStateIsFinal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.initialize(t, 100, startTime+100)

	require.NoError(t, env.engine.Withdraw(ctx, env.bob, id))

	// Every operation on a settled escrow fails, whoever calls it.
	ops := map[string]func() error{
		"second withdraw": func() error { return env.engine.Withdraw(ctx, env.bob, id) },
		"cancel":          func() error { return env.engine.Cancel(ctx, env.alice, id) },
		"resolve":         func() error { return env.engine.Resolve(ctx, env.carl, id, false) },
	}
	for testName, op := range ops {
		t.Run(testName, func(t *testing.T) {
			err := op()
			if !errors.ErrState.Is(err) {
				t.Fatalf("unexpected error: %+v", err)
			}
		})
	}
	t.Run("refund", func(t *testing.T) {
		env.clock.Set(startTime + 500)
		err := env.engine.Refund(ctx, env.alice, id)
		if !errors.ErrState.Is(err) {
			t.Fatalf("unexpected error: %+v", err)
		}
	})

	// The failed attempts moved nothing and emitted nothing.
	assert.Equal(t, int64(100), env.balance(t, env.bob))
	assert.Len(t, env.engine.Events(), 2)
}

func TestUnknownEscrow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := []byte{0, 0, 0, 0, 0, 0, 0, 9}

	for testName, op := range map[string]func() error{
		"withdraw": func() error { return env.engine.Withdraw(ctx, env.bob, id) },
		"refund":   func() error { return env.engine.Refund(ctx, env.alice, id) },
		"cancel":   func() error { return env.engine.Cancel(ctx, env.alice, id) },
		"resolve":  func() error { return env.engine.Resolve(ctx, env.carl, id, true) },
	} {
		t.Run(testName, func(t *testing.T) {
			err := op()
			if !errors.ErrNotFound.Is(err) {
				t.Fatalf("unexpected error: %+v", err)
			}
		})
	}
}

func TestCancelledContext(t *testing.T) {
	env := newTestEnv(t)
	id := env.initialize(t, 100, startTime+100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := env.engine.Withdraw(ctx, env.bob, id); err == nil {
		t.Fatal("expected a context error")
	}
	esc, err := env.engine.Escrow(id)
	require.NoError(t, err)
	assert.Equal(t, StatusInitialized, esc.Status)
}

func TestConcurrentSettlementRace(t *testing.T) {
	// Withdraw and cancel race on the same escrow. Exactly one must win
	// and the funds must end up whole in exactly one wallet.
	for i := 0; i < 25; i++ {
		env := newTestEnv(t)
		ctx := context.Background()
		id := env.initialize(t, 100, startTime+100)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs[0] = env.engine.Withdraw(ctx, env.bob, id)
		}()
		go func() {
			defer wg.Done()
			errs[1] = env.engine.Cancel(ctx, env.alice, id)
		}()
		wg.Wait()

		var won int
		for _, err := range errs {
			if err == nil {
				won++
			} else if !errors.ErrState.Is(err) {
				t.Fatalf("loser must fail with a state error, got: %+v", err)
			}
		}
		require.Equal(t, 1, won, "exactly one operation must win")

		esc, err := env.engine.Escrow(id)
		require.NoError(t, err)
		require.True(t, esc.Status.Terminal())
		assert.Equal(t, int64(0), env.balance(t, esc.Address))
		// Conservation: 1000 total, no matter who won.
		total := env.balance(t, env.alice) + env.balance(t, env.bob)
		assert.Equal(t, int64(1000), total)
		assert.Len(t, env.engine.Events(), 2)
	}
}

func TestParallelEscrowsDoNotSerialize(t *testing.T) {
	// Operations on distinct escrows run concurrently without
	// corrupting each other.
	env := newTestEnv(t)
	ctx := context.Background()

	const n = 20
	ids := make([][]byte, n)
	for i := range ids {
		ids[i] = env.initialize(t, 10, startTime+100)
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id []byte) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				err = env.engine.Withdraw(ctx, env.bob, id)
			} else {
				err = env.engine.Cancel(ctx, env.alice, id)
			}
			if err != nil {
				t.Errorf("escrow %d: %+v", i, err)
			}
		}(i, id)
	}
	wg.Wait()

	assert.Equal(t, int64(100), env.balance(t, env.bob))
	assert.Equal(t, int64(900), env.balance(t, env.alice))
	for _, id := range ids {
		esc, err := env.engine.Escrow(id)
		require.NoError(t, err)
		require.True(t, esc.Status.Terminal())
	}
	assert.Len(t, env.engine.Events(), 2*n)
}

func TestEventOrderAndIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.initialize(t, 100, startTime+100)
	second := env.initialize(t, 200, startTime+200)
	require.NoError(t, env.engine.Withdraw(ctx, env.bob, first))
	env.clock.Set(startTime + 300)
	require.NoError(t, env.engine.Refund(ctx, env.alice, second))

	events := env.engine.Events()
	require.Len(t, events, 4)
	wantTypes := []EventType{EventInitialized, EventInitialized, EventWithdrawn, EventRefunded}
	seen := make(map[string]bool)
	for i, ev := range events {
		assert.Equal(t, wantTypes[i], ev.Type)
		require.NotEmpty(t, ev.ID)
		require.False(t, seen[ev.ID], "event IDs must be unique")
		seen[ev.ID] = true
	}
	assert.Equal(t, first, events[2].EscrowID)
	assert.Equal(t, second, events[3].EscrowID)

	// The returned slice is a copy, mutating it does not corrupt the log.
	events[0].Type = "bogus"
	assert.Equal(t, EventInitialized, env.engine.Events()[0].Type)
}

func TestQueries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.initialize(t, 100, startTime+100)
	// A second escrow with a different party set.
	dave := keeptest.NewAddress()
	require.NoError(t, env.ledger.IssueCoins(env.db, dave, 500))
	second, err := env.engine.Initialize(ctx, dave, &CreateMsg{
		Recipient: env.bob,
		Arbiter:   env.carl,
		Amount:    50,
		Deadline:  startTime + 100,
	})
	require.NoError(t, err)

	list, err := env.engine.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	// Keys are sequence values, so list order is creation order.
	assert.Equal(t, first, list[0].ID)
	assert.Equal(t, second, list[1].ID)

	byAlice, err := env.engine.ByParty(env.alice)
	require.NoError(t, err)
	require.Len(t, byAlice, 1)
	assert.Equal(t, first, byAlice[0].ID)

	byBob, err := env.engine.ByParty(env.bob)
	require.NoError(t, err)
	assert.Len(t, byBob, 2)

	byStranger, err := env.engine.ByParty(keeptest.NewAddress())
	require.NoError(t, err)
	assert.Empty(t, byStranger)

	_, err = env.engine.Escrow([]byte{1, 2, 3})
	require.True(t, errors.ErrNotFound.Is(err), "unexpected error: %+v", err)
}
