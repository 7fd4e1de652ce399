package model

import (
	"errors"

	"github.com/google/uuid"

	"github.com/gehhilfe/eventorm"
)

// Fields shared by the account schema and its event schemas.
var (
	ID      = eventorm.Identifier("id", eventorm.PrimaryKey)
	Owner   = eventorm.Text("owner")
	Balance = eventorm.Decimal("balance")
	Amount  = eventorm.Decimal("amount")
)

// Events
var (
	AccountOpened = eventorm.NewEventType("AccountOpened",
		eventorm.MustSchema(ID, Owner),
		eventorm.StreamOpener(),
	)
	MoneyDeposited = eventorm.NewEventType("MoneyDeposited", eventorm.MustSchema(Amount))
	MoneyWithdrawn = eventorm.NewEventType("MoneyWithdrawn", eventorm.MustSchema(Amount))
)

var BankAccount = newBankAccount()

func newBankAccount() *eventorm.AggregateType {
	t := eventorm.NewAggregateType("BankAccount",
		eventorm.MustSchema(ID, Owner, Balance),
		eventorm.WithKeyspace("accounts"),
	)
	t.HandleFunc(AccountOpened, func(a *eventorm.Aggregate, e *eventorm.Event) {
		a.Set(ID, e.Get(ID))
		a.Set(Owner, e.Get(Owner))
		a.Set(Balance, 0.0)
	})
	t.HandleFunc(MoneyDeposited, func(a *eventorm.Aggregate, e *eventorm.Event) {
		a.Set(Balance, a.GetFloat(Balance)+e.GetFloat(Amount))
	})
	t.HandleFunc(MoneyWithdrawn, func(a *eventorm.Aggregate, e *eventorm.Event) {
		a.Set(Balance, a.GetFloat(Balance)-e.GetFloat(Amount))
	})
	return t
}

var (
	ErrAmountNotPositive = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// OpenAccount starts a new account owned by owner.
func OpenAccount(owner string) (*eventorm.Aggregate, error) {
	account := BankAccount.New()
	err := account.Dispatch(AccountOpened.New(eventorm.V{
		ID:    uuid.NewString(),
		Owner: owner,
	}))
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Deposit adds amount to the account balance.
func Deposit(account *eventorm.Aggregate, amount float64) error {
	if amount <= 0 {
		return ErrAmountNotPositive
	}
	return account.Dispatch(MoneyDeposited.New(eventorm.V{Amount: amount}))
}

// Withdraw removes amount from the account balance. It fails when the
// balance does not cover the amount.
func Withdraw(account *eventorm.Aggregate, amount float64) error {
	if amount <= 0 {
		return ErrAmountNotPositive
	}
	if account.GetFloat(Balance) < amount {
		return ErrInsufficientFunds
	}
	return account.Dispatch(MoneyWithdrawn.New(eventorm.V{Amount: amount}))
}
