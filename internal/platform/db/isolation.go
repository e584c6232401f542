package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ParseIsolation maps a configuration value onto a pgx isolation level.
// Accepted values are read_committed, repeatable_read and serializable.
func ParseIsolation(value string) (pgx.TxIsoLevel, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	switch normalized {
	case "read_committed":
		return pgx.ReadCommitted, nil
	case "repeatable_read":
		return pgx.RepeatableRead, nil
	case "serializable":
		return pgx.Serializable, nil
	default:
		return "", fmt.Errorf("platform/db: unsupported isolation level %q", value)
	}
}
