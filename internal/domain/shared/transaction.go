package shared

import "context"

// TxStores bundles the repositories bound to one transaction. Fields a
// runner does not support are nil; callers only touch the stores their
// operation needs.
type TxStores struct {
	Events   EventStore
	Scopes   ScopeRepository
	Commands CommandLedger
	Outbox   CommandOutboxRepository
}

// TransactionRunner executes fn inside a single serializable
// transaction. Core mutations that must land together (an append plus
// its scope commit, a command record plus its outbox entry) go through
// a runner so a crash can never leave half a decision behind.
type TransactionRunner interface {
	InTransaction(ctx context.Context, fn func(s TxStores) error) error
}
