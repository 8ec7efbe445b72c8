// Package storage archives published venue events in pebble.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

var ErrEmptySymbol = errors.New("storage: empty symbol")

// Record is one archived event. Payload holds the event as JSON.
type Record struct {
	Symbol  string          `json:"symbol"`
	Seq     uint64          `json:"seq"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Journal is an append-only, per-symbol event log keyed by sequence.
type Journal struct {
	db *pebble.DB
}

func OpenJournal(path string) (*Journal, error) {
	return open(path, &pebble.Options{})
}

// OpenMemJournal opens a journal on an in-memory filesystem.
func OpenMemJournal() (*Journal, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(path string, opts *pebble.Options) (*Journal, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", path, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// Append stores payload under (symbol, seq). Writing the same key twice
// overwrites the earlier record.
func (j *Journal) Append(symbol string, seq uint64, kind string, payload any) error {
	if symbol == "" {
		return ErrEmptySymbol
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event %d: %w", kind, seq, err)
	}
	val, err := json.Marshal(Record{Symbol: symbol, Seq: seq, Kind: kind, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := j.db.Set(eventKey(symbol, seq), val, pebble.Sync); err != nil {
		return fmt.Errorf("save event %s/%d: %w", symbol, seq, err)
	}
	return nil
}

// Range returns up to limit records for symbol with Seq >= fromSeq, in
// sequence order. A non-positive limit returns nothing.
func (j *Journal) Range(symbol string, fromSeq uint64, limit int) ([]Record, error) {
	out := []Record{}
	if limit <= 0 {
		return out, nil
	}
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(symbol, fromSeq),
		UpperBound: keyUpperBound(eventPrefix(symbol)),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate %s: %w", symbol, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid() && len(out) < limit; iter.Next() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

// LastSeq returns the highest sequence stored for symbol.
func (j *Journal) LastSeq(symbol string) (uint64, bool, error) {
	prefix := eventPrefix(symbol)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, false, fmt.Errorf("iterate %s: %w", symbol, err)
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, false, iter.Error()
	}
	var rec Record
	if err := json.Unmarshal(iter.Value(), &rec); err != nil {
		return 0, false, fmt.Errorf("decode %s: %w", iter.Key(), err)
	}
	return rec.Seq, true, nil
}
