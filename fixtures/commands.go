package fixtures

// Commands for the account domain, used by the command handler and bus
// tests and the examples.

type OpenAccount struct {
	ID             string
	Owner          string
	InitialBalance int64
}

func (c OpenAccount) AggregateID() string { return c.ID }

type DepositMoney struct {
	ID     string
	Amount int64
}

func (c DepositMoney) AggregateID() string { return c.ID }

type WithdrawMoney struct {
	ID     string
	Amount int64
}

func (c WithdrawMoney) AggregateID() string { return c.ID }

type CloseAccount struct {
	ID     string
	Reason string
}

func (c CloseAccount) AggregateID() string { return c.ID }
