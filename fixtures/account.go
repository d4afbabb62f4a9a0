package fixtures

import (
	"github.com/chronicle-io/chronicle"
)

// AggregateTypeAccount is the stream name prefix for account streams.
const AggregateTypeAccount = "Account"

// Account is a small but complete event-sourced aggregate used across the
// test suites and examples. Balances are in cents.
type Account struct {
	*chronicle.AggregateBase
	router *chronicle.ApplyRouter

	Owner   string
	Balance int64
	Closed  bool
}

// NewAccount creates an empty, not-yet-opened account shell for the
// repository to rehydrate or for Open to initialize.
func NewAccount(id string) *Account {
	a := &Account{
		AggregateBase: chronicle.NewAggregateBase(AggregateTypeAccount, id),
	}
	a.router = chronicle.NewApplyRouter()
	chronicle.OnAggregateEvent(a.router, func(e AccountOpened) {
		a.Owner = e.Owner
		a.Balance = e.InitialBalance
	})
	chronicle.OnAggregateEvent(a.router, func(e MoneyDeposited) {
		a.Balance += e.Amount
	})
	chronicle.OnAggregateEvent(a.router, func(e MoneyWithdrawn) {
		a.Balance -= e.Amount
	})
	chronicle.OnAggregateEvent(a.router, func(e AccountClosed) {
		a.Closed = true
	})
	return a
}

// Open initializes the account. It is only legal on a fresh instance.
func (a *Account) Open(owner string, initialBalance int64) error {
	if a.AggregateVersion() != 0 {
		return chronicle.NewBusinessRuleError("account-already-opened", "account %s is already open", a.EntityID())
	}
	if owner == "" {
		return chronicle.NewBusinessRuleError("owner-required", "account %s needs an owner", a.EntityID())
	}
	if initialBalance < 0 {
		return chronicle.NewBusinessRuleError("negative-initial-balance", "got %d", initialBalance)
	}

	a.Record(a, AccountOpened{ID: a.EntityID(), Owner: owner, InitialBalance: initialBalance})
	return nil
}

// Deposit adds funds to an open account.
func (a *Account) Deposit(amount int64) error {
	if err := a.mustBeOpen(); err != nil {
		return err
	}
	if amount <= 0 {
		return chronicle.NewBusinessRuleError("non-positive-deposit", "got %d", amount)
	}

	a.Record(a, MoneyDeposited{ID: a.EntityID(), Amount: amount})
	return nil
}

// Withdraw removes funds; the balance may never go negative.
func (a *Account) Withdraw(amount int64) error {
	if err := a.mustBeOpen(); err != nil {
		return err
	}
	if amount <= 0 {
		return chronicle.NewBusinessRuleError("non-positive-withdrawal", "got %d", amount)
	}
	if amount > a.Balance {
		return chronicle.NewBusinessRuleError("insufficient-funds",
			"withdraw %d exceeds balance %d", amount, a.Balance)
	}

	a.Record(a, MoneyWithdrawn{ID: a.EntityID(), Amount: amount})
	return nil
}

// Close moves the account to its terminal state. A closed account rejects
// all further business methods.
func (a *Account) Close(reason string) error {
	if err := a.mustBeOpen(); err != nil {
		return err
	}
	if a.Balance != 0 {
		return chronicle.NewBusinessRuleError("balance-not-zero",
			"cannot close with balance %d", a.Balance)
	}

	a.Record(a, AccountClosed{ID: a.EntityID(), Reason: reason})
	return nil
}

func (a *Account) mustBeOpen() error {
	if a.AggregateVersion() == 0 {
		return chronicle.NewBusinessRuleError("account-not-opened", "account %s does not exist", a.EntityID())
	}
	if a.Closed {
		return chronicle.NewBusinessRuleError("account-closed", "account %s is closed", a.EntityID())
	}
	return nil
}

// ApplyEvent is the single state transition entry point. Unknown event
// kinds leave the state unchanged.
func (a *Account) ApplyEvent(event chronicle.Event) {
	a.router.Apply(event)
}
