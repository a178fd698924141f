package database

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TxFunc defines a transaction function
type TxFunc func(ctx context.Context, tx *gorm.DB) error

type transactionKey struct{}

// Transaction 在事务中执行 fn。fn 收到的 ctx 已绑定事务，
// 仓储层通过 Conn(ctx) 取得同一个 *gorm.DB。嵌套调用复用外层事务。
func (db *DB) Transaction(ctx context.Context, fn TxFunc) error {
	if tx, ok := TransactionFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	return db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(ContextWithTransaction(ctx, tx), tx); err != nil {
			db.logger.WithContext(ctx).Warn("transaction failed, rolling back", zap.Error(err))
			return err
		}
		return nil
	})
}

// ContextWithTransaction adds transaction to context
func ContextWithTransaction(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, transactionKey{}, tx)
}

// TransactionFromContext extracts transaction from context
func TransactionFromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(transactionKey{}).(*gorm.DB)
	return tx, ok
}

// Conn 返回上下文中的事务连接，没有事务时返回普通连接
func (db *DB) Conn(ctx context.Context) *gorm.DB {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx
	}
	return db.DB.WithContext(ctx)
}
