// Package txn runs work inside a database transaction and defers side effects
// until that transaction has committed.
package txn

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Hook runs after a successful commit. It receives a context detached from the
// transaction.
type Hook func(ctx context.Context)

type unitKey struct{}

type unit struct {
	tx    *gorm.DB
	hooks []Hook
}

// Manager opens units of work on a gorm connection.
type Manager struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewManager(db *gorm.DB, log *zap.Logger) *Manager {
	return &Manager{db: db, log: log.Named("txn")}
}

var Module = fx.Module("txn",
	fx.Provide(NewManager),
)

// DB returns the underlying connection for reads outside a unit of work.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Do runs fn in a transaction. Hooks registered through AfterCommit while fn
// runs are invoked in registration order once the commit succeeds and dropped
// on rollback. A Do nested inside another joins the outer transaction and its
// hooks wait for the outer commit.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error {
	if outer, ok := ctx.Value(unitKey{}).(*unit); ok {
		return fn(ctx, outer.tx)
	}

	u := &unit{}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u.tx = tx
		return fn(context.WithValue(ctx, unitKey{}, u), tx)
	})
	if err != nil {
		if len(u.hooks) > 0 {
			m.log.Debug("discarding post-commit hooks after rollback", zap.Int("hooks", len(u.hooks)))
		}
		return err
	}

	m.runHooks(context.WithoutCancel(ctx), u.hooks)
	return nil
}

func (m *Manager) runHooks(ctx context.Context, hooks []Hook) {
	for i, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("post-commit hook panicked", zap.Int("hook", i), zap.String("panic", fmt.Sprint(r)))
				}
			}()
			hook(ctx)
		}()
	}
}

// AfterCommit queues hook on the unit of work carried by ctx. Outside a unit
// of work there is nothing to wait for and the hook runs immediately.
func AfterCommit(ctx context.Context, hook Hook) {
	if hook == nil {
		return
	}
	if u, ok := ctx.Value(unitKey{}).(*unit); ok {
		u.hooks = append(u.hooks, hook)
		return
	}
	hook(ctx)
}

// InUnit reports whether ctx belongs to an open unit of work.
func InUnit(ctx context.Context) bool {
	_, ok := ctx.Value(unitKey{}).(*unit)
	return ok
}
