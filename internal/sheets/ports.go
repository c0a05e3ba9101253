package sheets

import (
	"context"

	"conti/internal/core"
)

// Ports for outbound adapters.
type (
	// TransactionWriter mirrors committed transactions to an external sheet.
	TransactionWriter interface {
		AppendTransaction(ctx context.Context, tx core.Transaction) (rowRef string, err error)
	}
)
