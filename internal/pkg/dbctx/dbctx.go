package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a call context with an optional GORM transaction. A run's
// unit of work is expressed by passing the same Tx to every repository call.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// DB returns the open transaction, or fallback when there is none, bound to
// the context.
func (c Context) DB(fallback *gorm.DB) *gorm.DB {
	db := c.Tx
	if db == nil {
		db = fallback
	}
	return db.WithContext(c.Context())
}

// Context returns Ctx, or context.Background when none was set.
func (c Context) Context() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

// WithTx returns a copy of c carrying tx.
func (c Context) WithTx(tx *gorm.DB) Context {
	return Context{Ctx: c.Ctx, Tx: tx}
}
