package persistence

import (
	"context"

	"github.com/evercore/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// UnitOfWork runs multi-repository mutations inside one gorm
// transaction by rebinding each repository to the transaction handle.
type UnitOfWork struct {
	db       *gorm.DB
	events   *GormEventStore
	scopes   *GormScopeRepository
	commands *GormCommandLedger
	outbox   *GormCommandOutboxRepository
}

// NewUnitOfWork creates a transaction runner over the given repositories
func NewUnitOfWork(
	db *gorm.DB,
	events *GormEventStore,
	scopes *GormScopeRepository,
	commands *GormCommandLedger,
	outbox *GormCommandOutboxRepository,
) *UnitOfWork {
	return &UnitOfWork{
		db:       db,
		events:   events,
		scopes:   scopes,
		commands: commands,
		outbox:   outbox,
	}
}

// InTransaction executes fn inside a single database transaction
func (u *UnitOfWork) InTransaction(ctx context.Context, fn func(s shared.TxStores) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(shared.TxStores{
			Events:   u.events.WithTx(tx),
			Scopes:   u.scopes.WithTx(tx),
			Commands: u.commands.WithTx(tx),
			Outbox:   u.outbox.WithTx(tx),
		})
	})
}

// Ensure UnitOfWork implements TransactionRunner
var _ shared.TransactionRunner = (*UnitOfWork)(nil)
