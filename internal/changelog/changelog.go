// Package changelog maintains the append-only JSONL mirror of store
// mutations. The file is git-friendly: one JSON object per line, appended
// in store-commit order, replayable into a fresh database.
package changelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Entity types recorded in the log.
const (
	EntitySpec = "spec"
	EntityTask = "task"
)

// Change types recorded in the log.
const (
	ChangeCreate = "create"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// ChangeRecord is one line in the change log.
type ChangeRecord struct {
	// Timestamp is when the store committed the mutation.
	Timestamp time.Time `json:"timestamp"`
	// EntityType is "spec" or "task".
	EntityType string `json:"entity_type"`
	// EntityID is the mutated entity's id.
	EntityID string `json:"entity_id"`
	// ChangeType is "create", "update" or "delete".
	ChangeType string `json:"change_type"`
	// Data is the full entity snapshot, or null for deletes.
	Data json.RawMessage `json:"data"`
}

// MarshalLine renders the record as a single JSONL line without the
// trailing newline.
func (r *ChangeRecord) MarshalLine() ([]byte, error) {
	return json.Marshal(r)
}

// ParseLine parses one JSONL line into a ChangeRecord. Unknown fields are
// ignored; unknown entity or change types are an error.
func ParseLine(line []byte) (*ChangeRecord, error) {
	var rec ChangeRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, fmt.Errorf("parse change record: %w", err)
	}
	switch rec.EntityType {
	case EntitySpec, EntityTask:
	default:
		return nil, fmt.Errorf("unknown entity_type %q", rec.EntityType)
	}
	switch rec.ChangeType {
	case ChangeCreate, ChangeUpdate, ChangeDelete:
	default:
		return nil, fmt.Errorf("unknown change_type %q", rec.ChangeType)
	}
	// A JSON null otherwise survives as the literal bytes "null".
	if string(rec.Data) == "null" {
		rec.Data = nil
	}
	return &rec, nil
}

// Log is an append-only JSONL file of ChangeRecords. It is mutated only by
// the store's writer; observers read it.
type Log struct {
	path string
}

// New creates a Log at the given path, creating the file and parent
// directories if they do not exist.
func New(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create changelog directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create changelog: %w", err)
	}
	f.Close()
	return &Log{path: path}, nil
}

// Path returns the path to the JSONL file.
func (l *Log) Path() string {
	return l.path
}

// Append writes one record to the end of the log. The write is flushed
// before returning so a following store commit never outruns the mirror.
func (l *Log) Append(rec *ChangeRecord) error {
	line, err := rec.MarshalLine()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open changelog: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append changelog: %w", err)
	}
	return f.Sync()
}

// ReadAll returns every record in file order. Blank lines are skipped.
func (l *Log) ReadAll() ([]*ChangeRecord, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open changelog: %w", err)
	}
	defer f.Close()

	var records []*ChangeRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("changelog line %d: %w", lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read changelog: %w", err)
	}
	return records, nil
}

// Rewrite atomically replaces the log contents with the given records.
// Used by export/compact.
func (l *Log) Rewrite(records []*ChangeRecord) error {
	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create changelog temp file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, rec := range records {
		line, err := rec.MarshalLine()
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write changelog: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush changelog: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync changelog: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, l.path)
}

// GetChangesSince returns records with timestamp >= since, in file order.
func (l *Log) GetChangesSince(since time.Time) ([]*ChangeRecord, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []*ChangeRecord
	for _, rec := range all {
		if !rec.Timestamp.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Count returns the number of records in the log.
func (l *Log) Count() (int, error) {
	all, err := l.ReadAll()
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// Snapshot is the result of folding the log: the latest data per live
// entity, in first-seen order.
type Snapshot struct {
	SpecIDs []string
	Specs   map[string]json.RawMessage
	TaskIDs []string
	Tasks   map[string]json.RawMessage
}

// Fold replays records left to right into a final snapshot. Creates and
// updates overwrite the entity's data; deletes remove it.
func Fold(records []*ChangeRecord) *Snapshot {
	snap := &Snapshot{
		Specs: make(map[string]json.RawMessage),
		Tasks: make(map[string]json.RawMessage),
	}
	for _, rec := range records {
		ids, data := &snap.SpecIDs, snap.Specs
		if rec.EntityType == EntityTask {
			ids, data = &snap.TaskIDs, snap.Tasks
		}
		switch rec.ChangeType {
		case ChangeDelete:
			delete(data, rec.EntityID)
		default:
			if rec.Data == nil {
				continue
			}
			if _, seen := data[rec.EntityID]; !seen {
				*ids = append(*ids, rec.EntityID)
			}
			data[rec.EntityID] = rec.Data
		}
	}
	// Drop ids whose entity was later deleted.
	snap.SpecIDs = liveOnly(snap.SpecIDs, snap.Specs)
	snap.TaskIDs = liveOnly(snap.TaskIDs, snap.Tasks)
	return snap
}

func liveOnly(ids []string, data map[string]json.RawMessage) []string {
	out := ids[:0]
	for _, id := range ids {
		if _, ok := data[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
