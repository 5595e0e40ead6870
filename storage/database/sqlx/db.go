// Package sqlxrepos implements the domain repositories on PostgreSQL using
// sqlx. All timestamps are stored in UTC; JSONB columns carry the value
// objects (expected resource types, submission resources) verbatim.
package sqlxrepos

import (
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/rafikidev/rafiki/core"
)

// Wrap prepares a raw connection for the repositories.
func Wrap(db *sql.DB) *sqlx.DB {
	return sqlx.NewDb(db, "postgres")
}

// trapNoRows maps psql "no rows" to the domain's not-found sentinel.
func trapNoRows(err, notFound error, msg string) error {
	if err == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// orderBy renders an ORDER BY clause, falling back to def when no ordering
// was requested. def must be a trusted literal.
func orderBy(def string, ordering []core.DBOrdering) string {
	if len(ordering) == 0 {
		return " ORDER BY " + def
	}
	parts := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		parts = append(parts, ord.String())
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// inTx runs fn in a transaction, committing on success.
func inTx(db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.Beginx()
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}
