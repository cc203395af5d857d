package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// marshalJSON encodes v for a JSONB column. Nil maps become SQL NULL.
func marshalJSON(v any, what string) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("journey/postgres: marshal %s: %w", what, err)
	}
	return data, nil
}

// unmarshalJSON decodes a JSONB column into dst. NULL columns are left
// as the zero value.
func unmarshalJSON(data []byte, dst any, what string) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("journey/postgres: unmarshal %s: %w", what, err)
	}
	return nil
}
