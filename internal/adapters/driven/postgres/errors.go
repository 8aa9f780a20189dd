package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
)

// Postgres error codes the stores translate
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqDataException       = "22000"
)

// translateError maps driver errors to domain errors. resource and id name
// the row for not-found reporting.
func translateError(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Resource: resource, ID: id}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == pqUniqueViolation:
			return fmt.Errorf("%s %s (%s): %w", resource, id, pqErr.Constraint, domain.ErrAlreadyExists)
		case pqErr.Code == pqForeignKeyViolation:
			return &domain.NotFoundError{Resource: "document", ID: id}
		case isDimensionError(pqErr):
			return fmt.Errorf("%s: %w", pqErr.Message, domain.ErrDimensionMismatch)
		}
	}
	return err
}

// pgvector reports size mismatches as data exceptions
func isDimensionError(e *pq.Error) bool {
	if e.Code != pqDataException {
		return false
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "dimensions")
}
