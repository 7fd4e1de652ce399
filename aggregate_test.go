package eventorm

import (
	"context"
	"errors"
	"testing"

	"github.com/gehhilfe/eventorm/core"
	"github.com/gehhilfe/eventorm/store/memory"
)

var (
	accountID      = Integer("id", PrimaryKey)
	accountOwner   = Text("owner")
	accountBalance = Decimal("balance")
	amount         = Decimal("amount")
)

var (
	accountCreated      = NewEventType("Created", MustSchema(accountID, accountOwner), StreamOpener())
	depositPerformed    = NewEventType("DepositPerformed", MustSchema(amount))
	withdrawalPerformed = NewEventType("WithdrawalPerformed", MustSchema(amount))
	bonusGranted        = NewEventType("BonusGranted", MustSchema(amount))
)

func newAccountType() *AggregateType {
	t := NewAggregateType("BankAccount", MustSchema(accountID, accountOwner, accountBalance))
	t.HandleFunc(accountCreated, func(a *Aggregate, e *Event) {
		a.Set(accountID, e.Get(accountID))
		a.Set(accountOwner, e.Get(accountOwner))
		a.Set(accountBalance, 0.0)
	})
	t.HandleFunc(depositPerformed, func(a *Aggregate, e *Event) {
		a.Set(accountBalance, a.GetFloat(accountBalance)+e.GetFloat(amount))
	})
	t.HandleFunc(withdrawalPerformed, func(a *Aggregate, e *Event) {
		a.Set(accountBalance, a.GetFloat(accountBalance)-e.GetFloat(amount))
	})
	return t
}

func TestAggregateTypeKeyspace(t *testing.T) {
	if got := newAccountType().Keyspace(); got != "bank_account" {
		t.Errorf("expected bank_account, got %s", got)
	}
	typ := NewAggregateType("BankAccount", MustSchema(accountID), WithKeyspace("accounts"))
	if typ.Keyspace() != "accounts" {
		t.Errorf("expected accounts, got %s", typ.Keyspace())
	}
}

func TestHandleFuncRejectsDuplicates(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic for duplicate registration")
		}
	}()
	typ := newAccountType()
	typ.HandleFunc(depositPerformed, func(a *Aggregate, e *Event) {})
}

func TestDispatchFoldsEvents(t *testing.T) {
	account := newAccountType().New()

	if err := account.Dispatch(accountCreated.New(V{accountID: 123, accountOwner: "John Doe"})); err != nil {
		t.Fatalf("dispatch created: %v", err)
	}
	if err := account.Dispatch(depositPerformed.New(V{amount: 20.0})); err != nil {
		t.Fatalf("dispatch deposit: %v", err)
	}

	if account.Version() != core.NoVersion {
		t.Errorf("expected version -1, got %d", account.Version())
	}
	if account.CurrentVersion() != 1 {
		t.Errorf("expected current version 1, got %d", account.CurrentVersion())
	}
	if account.GetFloat(accountBalance) != 20 {
		t.Errorf("expected balance 20, got %f", account.GetFloat(accountBalance))
	}

	data, err := account.JSON()
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if string(data) != `{"balance":20,"id":123,"owner":"John Doe"}` {
		t.Errorf("unexpected json: %s", data)
	}
}

func TestDispatchAssignsVersionsInOrder(t *testing.T) {
	account := newAccountType().New()
	created := accountCreated.New(V{accountID: 1, accountOwner: "Jane"})
	deposit := depositPerformed.New(V{amount: 5.0})

	if err := account.Dispatch(created, deposit); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if created.Version() != 0 {
		t.Errorf("expected version 0, got %d", created.Version())
	}
	if deposit.Version() != 1 {
		t.Errorf("expected version 1, got %d", deposit.Version())
	}

	n := 0
	for range account.Uncommitted() {
		n++
	}
	if n != 2 {
		t.Errorf("expected 2 uncommitted events, got %d", n)
	}
}

func TestDispatchBatchMatchesSequential(t *testing.T) {
	makeEvents := func() []*Event {
		return []*Event{
			accountCreated.New(V{accountID: 7, accountOwner: "Jane"}),
			depositPerformed.New(V{amount: 100.0}),
			withdrawalPerformed.New(V{amount: 30.0}),
			depositPerformed.New(V{amount: 5.0}),
		}
	}

	batch := newAccountType().New()
	if err := batch.Dispatch(makeEvents()...); err != nil {
		t.Fatalf("batch dispatch: %v", err)
	}

	oneByOne := newAccountType().New()
	for _, e := range makeEvents() {
		if err := oneByOne.Dispatch(e); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}

	if batch.CurrentVersion() != oneByOne.CurrentVersion() {
		t.Errorf("current versions diverge: %d vs %d", batch.CurrentVersion(), oneByOne.CurrentVersion())
	}
	bj, err := batch.JSON()
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	oj, err := oneByOne.JSON()
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if string(bj) != string(oj) {
		t.Errorf("states diverge: %s vs %s", bj, oj)
	}
}

func TestDispatchUnhandledEventType(t *testing.T) {
	account := newAccountType().New()
	if err := account.Dispatch(accountCreated.New(V{accountID: 1, accountOwner: "Jane"})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	err := account.Dispatch(bonusGranted.New(V{amount: 5.0}))
	if !errors.Is(err, ErrUnhandledEventType) {
		t.Fatalf("expected ErrUnhandledEventType, got %v", err)
	}
	if account.CurrentVersion() != 0 {
		t.Errorf("a failed dispatch must not advance the version, got %d", account.CurrentVersion())
	}
}

func TestFromStreamReplays(t *testing.T) {
	stream, err := NewEventStreamFrom(
		accountCreated.New(V{accountID: 123, accountOwner: "John Doe"}),
		depositPerformed.New(V{amount: 20.0}),
	)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	account, err := newAccountType().FromStream(stream)
	if err != nil {
		t.Fatalf("from stream: %v", err)
	}
	if account.Version() != 1 {
		t.Errorf("expected version 1, got %d", account.Version())
	}
	if account.CurrentVersion() != 1 {
		t.Errorf("expected current version 1, got %d", account.CurrentVersion())
	}
	if account.GetFloat(accountBalance) != 20 {
		t.Errorf("expected balance 20, got %f", account.GetFloat(accountBalance))
	}

	n := 0
	for range account.Uncommitted() {
		n++
	}
	if n != 0 {
		t.Errorf("replayed events must land in the stored partition, got %d uncommitted", n)
	}
}

func TestReplayedValueTwinsBothFold(t *testing.T) {
	stream, err := NewEventStreamFrom(
		accountCreated.NewAt(0, V{accountID: 1, accountOwner: "Jane"}),
		depositPerformed.NewAt(1, V{amount: 20.0}),
		depositPerformed.NewAt(2, V{amount: 20.0}),
	)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	account, err := newAccountType().FromStream(stream)
	if err != nil {
		t.Fatalf("from stream: %v", err)
	}
	if account.GetFloat(accountBalance) != 40 {
		t.Errorf("expected balance 40, got %f", account.GetFloat(accountBalance))
	}
	if account.Version() != 2 {
		t.Errorf("expected version 2, got %d", account.Version())
	}
}

func TestFetchEventsRejectsUncommitted(t *testing.T) {
	account := newAccountType().New()
	if err := account.Dispatch(accountCreated.New(V{accountID: 1, accountOwner: "Jane"})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	stream, err := NewEventStreamFrom(depositPerformed.New(V{amount: 5.0}))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if err := account.FetchEvents(stream); !errors.Is(err, ErrUncommittedEvents) {
		t.Fatalf("expected ErrUncommittedEvents, got %v", err)
	}
}

func TestFetchEventsUnhandledTypeFoldsNothing(t *testing.T) {
	stream, err := NewEventStreamFrom(
		accountCreated.New(V{accountID: 1, accountOwner: "Jane"}),
		bonusGranted.New(V{amount: 5.0}),
	)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	account := newAccountType().New()
	if err := account.FetchEvents(stream); !errors.Is(err, ErrUnhandledEventType) {
		t.Fatalf("expected ErrUnhandledEventType, got %v", err)
	}
	if account.Version() != core.NoVersion {
		t.Errorf("expected version -1, got %d", account.Version())
	}
	if account.Get(accountBalance) != nil {
		t.Errorf("expected no state, got balance %v", account.Get(accountBalance))
	}
}

func TestEventPartitions(t *testing.T) {
	stream, err := NewEventStreamFrom(
		accountCreated.New(V{accountID: 1, accountOwner: "Jane"}),
		depositPerformed.New(V{amount: 20.0}),
	)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	account, err := newAccountType().FromStream(stream)
	if err != nil {
		t.Fatalf("from stream: %v", err)
	}
	if err := account.Dispatch(withdrawalPerformed.New(V{amount: 5.0})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	var stored, uncommitted, all []core.Version
	for e := range account.StoredEvents() {
		stored = append(stored, e.Version())
	}
	for e := range account.Uncommitted() {
		uncommitted = append(uncommitted, e.Version())
	}
	for e := range account.AllEvents() {
		all = append(all, e.Version())
	}

	if len(stored) != 2 || stored[0] != 0 || stored[1] != 1 {
		t.Errorf("expected stored versions [0 1], got %v", stored)
	}
	if len(uncommitted) != 1 || uncommitted[0] != 2 {
		t.Errorf("expected uncommitted versions [2], got %v", uncommitted)
	}
	if len(all) != 3 || all[0] != 0 || all[1] != 1 || all[2] != 2 {
		t.Errorf("expected all versions [0 1 2], got %v", all)
	}
}

func TestJSONProjection(t *testing.T) {
	account := newAccountType().New()
	if err := account.Dispatch(
		accountCreated.New(V{accountID: 123, accountOwner: "John Doe"}),
		depositPerformed.New(V{amount: 20.0}),
	); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	data, err := account.JSON(accountID, accountBalance)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if string(data) != `{"balance":20,"id":123}` {
		t.Errorf("unexpected json: %s", data)
	}

	data, err = account.JSON(accountID)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if string(data) != `{"id":123}` {
		t.Errorf("unexpected json: %s", data)
	}
}

func TestSaveMigratesUncommitted(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	typ := newAccountType()

	account := typ.New()
	if err := account.Dispatch(
		accountCreated.New(V{accountID: 123, accountOwner: "John Doe"}),
		depositPerformed.New(V{amount: 20.0}),
	); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if err := account.Save(ctx, store); err != nil {
		t.Fatalf("save: %v", err)
	}
	if account.Version() != 1 {
		t.Errorf("expected version 1, got %d", account.Version())
	}
	n := 0
	for range account.Uncommitted() {
		n++
	}
	if n != 0 {
		t.Errorf("expected no uncommitted events, got %d", n)
	}

	// Saving with nothing uncommitted is a no-op.
	if err := account.Save(ctx, store); err != nil {
		t.Fatalf("empty save: %v", err)
	}

	loaded, err := NewManager(typ, store).Get(ctx, 123)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Version() != 1 {
		t.Errorf("expected version 1, got %d", loaded.Version())
	}
	if loaded.GetFloat(accountBalance) != 20 {
		t.Errorf("expected balance 20, got %f", loaded.GetFloat(accountBalance))
	}
	if loaded.GetString(accountOwner) != "John Doe" {
		t.Errorf("expected owner John Doe, got %s", loaded.GetString(accountOwner))
	}
}

func TestSaveRequiresPrimaryKey(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()

	// No field marked as primary key.
	title := Text("title")
	noteCreated := NewEventType("NoteCreated", MustSchema(title), StreamOpener())
	typ := NewAggregateType("Note", MustSchema(title))
	typ.HandleFunc(noteCreated, func(a *Aggregate, e *Event) {
		a.Set(title, e.Get(title))
	})

	note := typ.New()
	if err := note.Dispatch(noteCreated.New(V{title: "a"})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := note.Save(ctx, store); !errors.Is(err, ErrNoPrimaryKey) {
		t.Fatalf("expected ErrNoPrimaryKey, got %v", err)
	}

	// Primary key declared but never set.
	account := newAccountType().New()
	if err := account.Dispatch(depositPerformed.New(V{amount: 5.0})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := account.Save(ctx, store); !errors.Is(err, ErrNoPrimaryKey) {
		t.Fatalf("expected ErrNoPrimaryKey, got %v", err)
	}
}

func TestVersionConflictBetweenInstances(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	typ := newAccountType()
	manager := NewManager(typ, store)

	account := typ.New()
	if err := account.Dispatch(accountCreated.New(V{accountID: 7, accountOwner: "Jane"})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := account.Save(ctx, store); err != nil {
		t.Fatalf("save: %v", err)
	}

	first, err := manager.Get(ctx, 7)
	if err != nil {
		t.Fatalf("get first: %v", err)
	}
	second, err := manager.Get(ctx, 7)
	if err != nil {
		t.Fatalf("get second: %v", err)
	}

	if err := first.Dispatch(depositPerformed.New(V{amount: 10.0})); err != nil {
		t.Fatalf("dispatch first: %v", err)
	}
	if err := first.Save(ctx, store); err != nil {
		t.Fatalf("save first: %v", err)
	}

	if err := second.Dispatch(depositPerformed.New(V{amount: 5.0})); err != nil {
		t.Fatalf("dispatch second: %v", err)
	}
	if err := second.Save(ctx, store); !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	// The losing instance recovers by refreshing and retrying.
	if err := second.Refresh(ctx, store); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.GetFloat(accountBalance) != 10 {
		t.Errorf("expected balance 10 after refresh, got %f", second.GetFloat(accountBalance))
	}
	if second.CurrentVersion() != 1 {
		t.Errorf("expected current version 1 after refresh, got %d", second.CurrentVersion())
	}

	if err := second.Dispatch(depositPerformed.New(V{amount: 5.0})); err != nil {
		t.Fatalf("dispatch after refresh: %v", err)
	}
	if err := second.Save(ctx, store); err != nil {
		t.Fatalf("save after refresh: %v", err)
	}
	if second.GetFloat(accountBalance) != 15 {
		t.Errorf("expected balance 15, got %f", second.GetFloat(accountBalance))
	}
	if second.Version() != 2 {
		t.Errorf("expected version 2, got %d", second.Version())
	}
}

func TestRefreshDiscardsUncommitted(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	typ := newAccountType()

	account := typ.New()
	if err := account.Dispatch(
		accountCreated.New(V{accountID: 9, accountOwner: "Jane"}),
		depositPerformed.New(V{amount: 20.0}),
	); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := account.Save(ctx, store); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := account.Dispatch(depositPerformed.New(V{amount: 100.0})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := account.Refresh(ctx, store); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if account.GetFloat(accountBalance) != 20 {
		t.Errorf("expected balance 20, got %f", account.GetFloat(accountBalance))
	}
	if account.CurrentVersion() != account.Version() {
		t.Errorf("expected no uncommitted events, version %d vs current %d", account.Version(), account.CurrentVersion())
	}
	if account.Version() != 1 {
		t.Errorf("expected version 1, got %d", account.Version())
	}
}
