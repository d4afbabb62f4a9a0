package fixtures

import (
	"encoding/json"

	"github.com/chronicle-io/chronicle"
)

// AccountOpened records the creation of an account. Schema version 2: the
// holder field of v1 was renamed to owner and an initial balance was added.
type AccountOpened struct {
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	InitialBalance int64  `json:"initial_balance"`
}

func (e AccountOpened) AggregateID() string { return e.ID }
func (e AccountOpened) EventType() string   { return "AccountOpened" }

// MoneyDeposited records a deposit. Amounts are in cents.
type MoneyDeposited struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

func (e MoneyDeposited) AggregateID() string { return e.ID }
func (e MoneyDeposited) EventType() string   { return "MoneyDeposited" }

// MoneyWithdrawn records a withdrawal. Amounts are in cents.
type MoneyWithdrawn struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

func (e MoneyWithdrawn) AggregateID() string { return e.ID }
func (e MoneyWithdrawn) EventType() string   { return "MoneyWithdrawn" }

// AccountClosed records the terminal state transition.
type AccountClosed struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (e AccountClosed) AggregateID() string { return e.ID }
func (e AccountClosed) EventType() string   { return "AccountClosed" }

// accountOpenedV1 is the retired wire shape, kept only for the upcaster.
type accountOpenedV1 struct {
	ID     string `json:"id"`
	Holder string `json:"holder"`
}

// RegisterAccountEvents wires the account domain into a registry, including
// the v1 to v2 lineage for AccountOpened.
func RegisterAccountEvents(r *chronicle.Registry) {
	r.Register(func() chronicle.Event { return AccountOpened{} }, chronicle.AtSchemaVersion(2))
	r.Register(func() chronicle.Event { return MoneyDeposited{} })
	r.Register(func() chronicle.Event { return MoneyWithdrawn{} })
	r.Register(func() chronicle.Event { return AccountClosed{} })

	r.RegisterUpcaster("AccountOpened", 1, func(data json.RawMessage) (json.RawMessage, error) {
		var old accountOpenedV1
		if err := json.Unmarshal(data, &old); err != nil {
			return nil, err
		}
		return json.Marshal(AccountOpened{
			ID:             old.ID,
			Owner:          old.Holder,
			InitialBalance: 0,
		})
	})
}
