package models

// ChatMessage lives only in process memory: appended to the realtime hub's
// history and lost on restart. No persistence is claimed anywhere.
type ChatMessage struct {
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}
