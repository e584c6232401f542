package shared

import (
	"fmt"
	"strings"
)

// ReconcileLockKey builds the redis key guarding batch reconciliation.
// Batches are serialized globally, so scope is only a namespace suffix.
func ReconcileLockKey(scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "global"
	}
	return fmt.Sprintf("stockledger:reconcile:%s:lock", scope)
}
