package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is the opaque transaction handle passed through repository methods.
// The concrete type is infra-defined (pgx.Tx for Postgres); repositories
// accept nil for the non-transactional path.
type Tx interface{}

// NoTX is passed where no transaction is wanted.
var NoTX Tx

// TransactionManager executes fn inside one database transaction, handing
// the tx handle to repositories via the Tx argument. Keeps transaction
// types out of the use-case interfaces while still allowing
// SELECT ... FOR UPDATE inside fn.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
