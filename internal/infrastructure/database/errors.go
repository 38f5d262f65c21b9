package database

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the database package.
var (
	// ErrUnsupportedDialect is returned when the configured dialect has no
	// driver or schema template.
	ErrUnsupportedDialect = errors.New("database: unsupported dialect")

	// ErrDialectMismatch is returned when the schema marker was written by a
	// different dialect than the one configured.
	ErrDialectMismatch = errors.New("database: schema dialect mismatch")

	// ErrNoSchema is returned when no schema template has been embedded.
	ErrNoSchema = errors.New("database: no schema template registered")
)

// UnsupportedDialectError carries the rejected dialect name.
// It matches ErrUnsupportedDialect with errors.Is.
type UnsupportedDialectError struct {
	Name string
}

func (e *UnsupportedDialectError) Error() string {
	names := make([]string, 0, len(SupportedDialects()))
	for _, d := range SupportedDialects() {
		names = append(names, d.String())
	}
	return fmt.Sprintf("%s %q (supported: %s)", ErrUnsupportedDialect, e.Name, strings.Join(names, ", "))
}

// Is reports whether target is ErrUnsupportedDialect.
func (e *UnsupportedDialectError) Is(target error) bool {
	return target == ErrUnsupportedDialect
}
