package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrUnknownColumn = errors.New("column cannot be modified")
)

// StoreError wraps every failure coming out of the database.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// CorruptStoreError is returned by CheckHealth when SQLite reports problems.
type CorruptStoreError struct {
	Problems []string
}

func (e *CorruptStoreError) Error() string {
	return "store integrity check failed: " + strings.Join(e.Problems, "; ")
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
