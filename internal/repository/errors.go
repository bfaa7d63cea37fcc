// Package repository implements the engine's storage interfaces on MySQL.
// Every repo shares one TxManager, so a transaction opened through any of
// them is joined by calls made on the others with the same context.
package repository

import (
	"database/sql"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/cinema-booking-engine/internal/errs"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errs.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// notFound marks sql.ErrNoRows as errs.ErrNotFound and leaves other
// errors untouched apart from the context message.
func notFound(err error, format string, args ...interface{}) error {
	if err == sql.ErrNoRows {
		return errs.Mark(errs.Newf(format, args...), errs.ErrNotFound)
	}
	return errs.Wrapf(err, format, args...)
}
