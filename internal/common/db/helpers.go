package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213

	// txAttempts bounds how often InTx reruns a transaction MySQL chose as a deadlock victim.
	txAttempts = 2
)

// Querier is the statement surface shared by Database and Transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// GetQuerier returns tx when a repository call joins a transaction, database otherwise.
func GetQuerier(database Database, tx Transaction) Querier {
	if tx != nil {
		return tx
	}
	return database
}

// InTx runs fn in one transaction on the provider's current database.
// With a nil provider fn runs with a nil transaction, so each statement commits on its own.
// A deadlock or lock wait timeout reruns the whole transaction once.
func InTx(ctx context.Context, provider Provider, fn func(tx Transaction) error) error {
	if provider == nil {
		return fn(nil)
	}
	database, err := CurrentDatabase(provider)
	if err != nil {
		return err
	}
	for attempt := 1; ; attempt++ {
		err = database.Transaction(ctx, fn)
		if err == nil || attempt >= txAttempts || !IsRetryableTxError(err) || ctx.Err() != nil {
			return err
		}
	}
}

// IsNoRows reports whether err wraps sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsDuplicateKey reports whether err is a MySQL duplicate entry error.
func IsDuplicateKey(err error) bool {
	return mysqlErrorNumber(err) == mysqlDuplicateEntry
}

// IsRetryableTxError reports whether MySQL rolled the transaction back for lock contention.
func IsRetryableTxError(err error) bool {
	switch mysqlErrorNumber(err) {
	case mysqlDeadlock, mysqlLockWaitTimeout:
		return true
	default:
		return false
	}
}

func mysqlErrorNumber(err error) uint16 {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	return 0
}
