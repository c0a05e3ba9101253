package worker

import (
	"context"
	"fmt"
	"log/slog"

	"conti/internal/amqp"
	"conti/internal/core"
	"conti/internal/sheets"
)

// TransactionReader loads committed transactions.
type TransactionReader interface {
	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
}

// MirrorWorker copies committed transactions to a spreadsheet as their
// events arrive. The database stays the source of truth.
type MirrorWorker struct {
	storage TransactionReader
	sheets  sheets.TransactionWriter
}

func NewMirrorWorker(storage TransactionReader, sheets sheets.TransactionWriter) *MirrorWorker {
	return &MirrorWorker{
		storage: storage,
		sheets:  sheets,
	}
}

// HandleTransactionEvent processes a single transaction event from AMQP
func (w *MirrorWorker) HandleTransactionEvent(ctx context.Context, msg *amqp.TransactionEvent) error {
	slog.InfoContext(ctx, "Processing transaction event",
		"transaction_id", msg.TransactionID,
		"message_id", msg.MessageID)

	tx, err := w.storage.GetTransaction(ctx, msg.TransactionID)
	if err != nil {
		return fmt.Errorf("get transaction from storage: %w", err)
	}

	if w.sheets == nil {
		slog.WarnContext(ctx, "No sheet writer configured, skipping mirror",
			"transaction_id", tx.ID)
		return nil
	}

	ref, err := w.sheets.AppendTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("append to sheets: %w", err)
	}

	slog.InfoContext(ctx, "Successfully mirrored transaction",
		"transaction_id", tx.ID,
		"sheets_ref", ref,
		"type", tx.Type,
		"amount", tx.Amount.String())
	return nil
}
