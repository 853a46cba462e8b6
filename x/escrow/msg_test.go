package escrow

import (
	"strings"
	"testing"

	"github.com/trustkeep/keep/errors"
	"github.com/trustkeep/keep/keeptest"
)

func TestCreateMsgValidate(t *testing.T) {
	bob := keeptest.NewAddress()
	carl := keeptest.NewAddress()

	valid := CreateMsg{
		Recipient: bob,
		Arbiter:   carl,
		Amount:    100,
		Deadline:  1000,
		Memo:      "rent for may",
	}

	cases := map[string]struct {
		mutate  func(*CreateMsg)
		wantErr *errors.Error
	}{
		"valid message": {
			mutate:  func(*CreateMsg) {},
			wantErr: nil,
		},
		"memo at the limit": {
			mutate:  func(m *CreateMsg) { m.Memo = strings.Repeat("m", maxMemoSize) },
			wantErr: nil,
		},
		"missing recipient": {
			mutate:  func(m *CreateMsg) { m.Recipient = nil },
			wantErr: errors.ErrInput,
		},
		"missing arbiter": {
			mutate:  func(m *CreateMsg) { m.Arbiter = nil },
			wantErr: errors.ErrInput,
		},
		"zero amount": {
			mutate:  func(m *CreateMsg) { m.Amount = 0 },
			wantErr: errors.ErrAmount,
		},
		"negative amount": {
			mutate:  func(m *CreateMsg) { m.Amount = -1 },
			wantErr: errors.ErrAmount,
		},
		"zero deadline": {
			mutate:  func(m *CreateMsg) { m.Deadline = 0 },
			wantErr: errors.ErrDeadline,
		},
		"negative deadline": {
			mutate:  func(m *CreateMsg) { m.Deadline = -4 },
			wantErr: errors.ErrState,
		},
		"memo too long": {
			mutate:  func(m *CreateMsg) { m.Memo = strings.Repeat("m", maxMemoSize+1) },
			wantErr: errors.ErrInput,
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			msg := valid
			tc.mutate(&msg)
			err := msg.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %+v", err)
				}
				return
			}
			if !tc.wantErr.Is(err) {
				t.Fatalf("unexpected error: %+v", err)
			}
		})
	}
}
