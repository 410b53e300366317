package amqp

import (
	"encoding/json"
	"time"
)

// TabChangedMessage announces one committed aggregate write. It carries
// only the tab id and the committed version; consumers re-read the
// aggregate from the store, so a stale or duplicated message is harmless.
type TabChangedMessage struct {
	TabID     string    `json:"tab_id"`
	Version   int64     `json:"version"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTabChangedMessage creates a change notification for one committed write.
func NewTabChangedMessage(tabID string, version int64, status string) *TabChangedMessage {
	return &TabChangedMessage{
		TabID:     tabID,
		Version:   version,
		Status:    status,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *TabChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TabChangedMessageFromJSON creates a message from JSON bytes
func TabChangedMessageFromJSON(data []byte) (*TabChangedMessage, error) {
	var msg TabChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
