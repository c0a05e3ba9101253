package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"conti/internal/core"
)

// TransactionEvent announces a committed ledger movement. Consumers fetch the
// full transaction from the database by id.
type TransactionEvent struct {
	MessageID     string    `json:"message_id"`
	TransactionID int64     `json:"transaction_id"`
	OwnerID       int64     `json:"owner_id"`
	Type          string    `json:"type"`
	AmountMinor   int64     `json:"amount_minor"`
	Currency      string    `json:"currency"`
	ScheduleID    *int64    `json:"schedule_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewTransactionEvent creates an event for tx with a fresh message id.
func NewTransactionEvent(tx core.Transaction) *TransactionEvent {
	return &TransactionEvent{
		MessageID:     uuid.NewString(),
		TransactionID: tx.ID,
		OwnerID:       tx.OwnerID,
		Type:          string(tx.Type),
		AmountMinor:   tx.Amount.Minor,
		Currency:      string(tx.Amount.Currency),
		ScheduleID:    tx.ScheduleID,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the event to JSON bytes
func (m *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionEventFromJSON decodes an event and rejects ones without a
// transaction id.
func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var msg TransactionEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.TransactionID <= 0 {
		return nil, fmt.Errorf("event without transaction id")
	}
	return &msg, nil
}
