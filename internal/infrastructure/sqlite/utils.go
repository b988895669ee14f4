package sqlite

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/jhoicas/stock-ledger-api/internal/domain"
)

// timeLayout ancho fijo para que el orden lexicográfico coincida con el cronológico.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("fecha inválida %q: %w", s, err)
	}
	return t, nil
}

// wrapErr traduce SQLITE_BUSY / SQLITE_LOCKED a domain.ErrConcurrencyConflict.
func wrapErr(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%s: %w (%s)", op, domain.ErrConcurrencyConflict, se.Error())
	}
	return fmt.Errorf("%s: %w", op, err)
}

// uniqueViolation devuelve el mensaje de la restricción violada, o "" si no es un UNIQUE.
func uniqueViolation(err error) string {
	var se sqlite3.Error
	if errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return se.Error()
	}
	return ""
}

// isReferenceViolation índices únicos parciales sobre reference_id (reversiones y piernas de traslado).
func isReferenceViolation(msg string) bool {
	return strings.Contains(msg, "inventory_movements.reference_id")
}
