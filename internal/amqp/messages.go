package amqp

import (
	"encoding/json"
	"time"

	"bookkeep/internal/reconcile"
)

// RecordSyncedType is the AMQP message type of RecordSyncedMessage.
const RecordSyncedType = "record.synced"

// RecordSyncedMessage announces a record reconciled with the server. It
// carries counts only; consumers read the record from the API.
type RecordSyncedMessage struct {
	RecordID  int64     `json:"record_id"`
	BookID    int64     `json:"book_id"`
	Created   bool      `json:"created"`
	Uploaded  int       `json:"uploaded"`
	Deleted   int       `json:"deleted"`
	Failed    int       `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRecordSyncedMessage(ev reconcile.Event) *RecordSyncedMessage {
	ts := ev.SyncedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &RecordSyncedMessage{
		RecordID:  ev.RecordID,
		BookID:    ev.BookID,
		Created:   ev.Created,
		Uploaded:  ev.Uploaded,
		Deleted:   ev.Deleted,
		Failed:    ev.Failed,
		Timestamp: ts,
	}
}

func (m *RecordSyncedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RecordSyncedMessageFromJSON(data []byte) (*RecordSyncedMessage, error) {
	var msg RecordSyncedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
