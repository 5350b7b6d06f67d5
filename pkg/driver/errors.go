package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Store error kinds. Callers branch on these with errors.Is; everything
// else surfaces as a *StoreError carrying the driver message.
var (
	// ErrNotFound indicates a uuid lookup miss.
	ErrNotFound = errors.New("not found in graph store")

	// ErrUnavailable indicates the store refused the connection or timed out.
	ErrUnavailable = errors.New("graph store unavailable")

	// ErrConflict indicates a constraint violation, typically a duplicate uuid.
	ErrConflict = errors.New("graph store constraint violation")
)

// StoreError wraps an unclassified driver failure.
type StoreError struct {
	Op      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("graph store %s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error { return e.Err }

// classifyError maps a neo4j driver error onto the store error kinds.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}

	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		switch {
		case strings.Contains(neoErr.Code, "ConstraintValidation"),
			strings.Contains(neoErr.Code, "ConstraintViolation"):
			return fmt.Errorf("%s: %w", op, ErrConflict)
		case strings.Contains(neoErr.Code, "ServiceUnavailable"),
			strings.Contains(neoErr.Code, "TransientError"):
			return fmt.Errorf("%s: %w", op, ErrUnavailable)
		}
	}

	var usageErr *neo4j.UsageError
	if errors.As(err, &usageErr) {
		return &StoreError{Op: op, Message: usageErr.Message, Err: err}
	}

	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "ConnectivityError") ||
		strings.Contains(msg, "i/o timeout") {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}

	return &StoreError{Op: op, Message: msg, Err: err}
}
