package runlog

import (
	"encoding/json"
	"time"
)

// Log collects the stage-by-stage trail of one pipeline run. It is uploaded
// as the run's logs document, so a failed or surprising run can be read back
// without access to process logs.
type Log struct {
	entries []Entry
}

type Entry struct {
	At      time.Time              `json:"at"`
	Stage   string                 `json:"stage"`
	Message string                 `json:"message"`
	Extra   map[string]interface{} `json:"extra,omitempty"`
}

func New() *Log {
	return &Log{}
}

func (l *Log) Event(stage, message string, extra map[string]interface{}) {
	l.entries = append(l.entries, Entry{
		At:      time.Now().UTC(),
		Stage:   stage,
		Message: message,
		Extra:   extra,
	})
}

func (l *Log) Entries() []Entry {
	return l.entries
}

func (l *Log) Marshal() ([]byte, error) {
	return json.MarshalIndent(struct {
		Entries []Entry `json:"entries"`
	}{Entries: l.entries}, "", "  ")
}
