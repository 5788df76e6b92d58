package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Typed error categories surfaced by the persistence gateway.
var (
	ErrNotFound         = errors.New("entity not found")
	ErrDuplicateKey     = errors.New("duplicate key violation")
	ErrInvalidReference = errors.New("foreign key violation")
	ErrConnection       = errors.New("database connection failure")
)

// IsInvalidReference checks if the error is a foreign key constraint violation
func IsInvalidReference(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}

	return strings.Contains(err.Error(), "violates foreign key constraint")
}

// IsDuplicateKey checks if the error is a unique constraint violation
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "violates unique constraint")
}

// IsNotFound checks if the error indicates a record was not found
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

// IsConnection checks if the error is related to database connectivity
func IsConnection(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrConnection) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset") ||
		strings.Contains(err.Error(), "no connection to the server")
}

// wrapError maps database errors onto the typed categories; unknown errors
// pass through unchanged.
func wrapError(err error) error {
	switch {
	case err == nil:
		return nil
	case IsNotFound(err):
		return ErrNotFound
	case IsDuplicateKey(err):
		return ErrDuplicateKey
	case IsInvalidReference(err):
		return ErrInvalidReference
	case IsConnection(err):
		return ErrConnection
	default:
		return err
	}
}
