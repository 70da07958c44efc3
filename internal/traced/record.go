// Package traced holds the pipeline's record model: field maps with an
// append-only, hash-chained history of where each update came from. Records
// survive between stages as JSONL files.
package traced

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// TraceEvent is one append to a record's history.
type TraceEvent struct {
	SHA       string    `json:"sha"`
	PrevSHA   string    `json:"prev_sha,omitempty"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is one traced data object: a flat field map plus provenance.
type Record struct {
	UID     string            `json:"uid"`
	Fields  map[string]string `json:"fields"`
	History []TraceEvent      `json:"history,omitempty"`
}

// NewRecord creates a record with a single history event covering the initial
// fields.
func NewRecord(uid, source string, fields map[string]string, now time.Time) Record {
	record := Record{
		UID:    uid,
		Fields: copyFields(fields),
	}
	record.History = []TraceEvent{{
		SHA:       record.contentSHA(),
		Source:    source,
		Timestamp: now.UTC(),
	}}
	return record
}

// Append merges updates into the record and chains a new history event onto
// the previous one. Existing keys are overwritten; history is never rewritten.
func (r *Record) Append(source string, updates map[string]string, now time.Time) {
	if r.Fields == nil {
		r.Fields = make(map[string]string, len(updates))
	}
	for key, value := range updates {
		r.Fields[key] = value
	}
	prev := ""
	if len(r.History) > 0 {
		prev = r.History[len(r.History)-1].SHA
	}
	r.History = append(r.History, TraceEvent{
		SHA:       r.contentSHA(),
		PrevSHA:   prev,
		Source:    source,
		Timestamp: now.UTC(),
	})
}

// Get returns a field value.
func (r Record) Get(key string) (string, bool) {
	value, ok := r.Fields[key]
	return value, ok
}

// Verify walks the history chain and reports the first broken link. Only the
// final event's SHA can be checked against content, since intermediate field
// states are not retained.
func (r Record) Verify() error {
	for i := 1; i < len(r.History); i++ {
		if r.History[i].PrevSHA != r.History[i-1].SHA {
			return fmt.Errorf("history chain broken at event %d", i)
		}
	}
	if len(r.History) > 0 {
		last := r.History[len(r.History)-1]
		if last.SHA != r.contentSHA() {
			return fmt.Errorf("final history event does not match record content")
		}
	}
	return nil
}

func (r Record) contentSHA() string {
	// json.Marshal sorts map keys, so this is a canonical encoding.
	payload := struct {
		UID    string            `json:"uid"`
		Fields map[string]string `json:"fields"`
	}{UID: r.UID, Fields: r.Fields}
	raw, err := json.Marshal(payload)
	if err != nil {
		// A map[string]string always marshals.
		panic(fmt.Sprintf("marshal record content: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func copyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for key, value := range fields {
		out[key] = value
	}
	return out
}
