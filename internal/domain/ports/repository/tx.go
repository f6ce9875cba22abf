package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager executes fn within a database transaction and passes
// the underlying handle via tx.
//
// Repository methods accept `tx Tx`. When the handle is a real transaction
// they run SELECT ... FOR UPDATE and tx-bound Exec/Query; with NoTX they use
// the pool directly.
//
// USAGE
// tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx Tx) error {
// p, err := payments.FindByExternalID(ctx, tx, extID)
// ...
// return payments.Update(ctx, tx, p)
// })
//
// A status change and the dependent subscription mutation always share one
// transaction, so a concurrently running worker never sees half of it.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
