package persistent

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/buzkaaclicker/profiles"
	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/driver/pgdriver"
)

// classify wraps a driver error with the store failure category it belongs to.
func classify(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, category(err), err)
}

func category(err error) error {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgCategory(pgErr.Field('C'))
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return profiles.ErrConflict
		case liteErr.Code == sqlite3.ErrBusy, liteErr.Code == sqlite3.ErrLocked:
			return profiles.ErrTransient
		default:
			return profiles.ErrFatal
		}
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &netErr):
		return profiles.ErrTransient
	default:
		return profiles.ErrFatal
	}
}

// https://www.postgresql.org/docs/current/errcodes-appendix.html
func pgCategory(sqlState string) error {
	switch {
	case sqlState == "23505":
		return profiles.ErrConflict
	case strings.HasPrefix(sqlState, "08"), // connection exception
		sqlState == "40001", // serialization failure
		sqlState == "40P01", // deadlock detected
		strings.HasPrefix(sqlState, "53"), // insufficient resources
		strings.HasPrefix(sqlState, "57P"): // operator intervention
		return profiles.ErrTransient
	default:
		return profiles.ErrFatal
	}
}
