package model

// WebSocket message types
const (
	WSMessageTypeRecord = "record_update"
	WSMessageTypeQueue  = "queue_update"
	WSMessageTypePing   = "ping"
	WSMessageTypePong   = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSRecordMessage carries a full record snapshot on every transition.
type WSRecordMessage struct {
	Type   string         `json:"type"`
	Record AnalysisRecord `json:"record"`
}

// WSQueueMessage reports queue occupancy so the submission surface can
// show a busy hint.
type WSQueueMessage struct {
	Type    string `json:"type"`
	Pending int    `json:"pending"`
	Busy    bool   `json:"busy"`
}
