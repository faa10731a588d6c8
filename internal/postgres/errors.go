package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error code for foreign key constraint violations.
const codeForeignKeyViolation = "23503"

// IsForeignKeyViolation reports whether err represents a PostgreSQL foreign key constraint violation (SQLSTATE 23503).
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation
}
