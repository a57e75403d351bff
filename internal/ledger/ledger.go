// Package ledger provides the serialized, all-or-nothing transaction model the
// redemption contract runs under.
//
// Every state change goes through Execute: the callback reads and writes a Tx,
// and its writes are committed as one unit only if it returns nil. A failing
// callback leaves no trace in the backend.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

const seqKey = "ledger:seq"

// Reader is a consistent view of committed state.
type Reader interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// Writes maps key to new value; a nil value deletes the key.
type Writes map[string]*string

// Backend stores committed ledger state.
type Backend interface {
	// Update runs fn against a consistent view and applies the writes it
	// returns atomically. Nothing is applied when fn returns an error.
	Update(ctx context.Context, fn func(r Reader) (Writes, error)) error
	// View runs fn against a consistent read-only view.
	View(ctx context.Context, fn func(r Reader) error) error
	Close() error
}

// Event is a log entry emitted by a transaction.
type Event struct {
	Name   string            `json:"name"`
	Fields map[string]string `json:"fields"`
}

// Receipt describes a committed (or simulated) transaction.
type Receipt struct {
	Seq    uint64  `json:"seq"`
	Events []Event `json:"events"`
}

var ErrReadOnly = errors.New("ledger: write in read-only transaction")

// Ledger serializes transactions against a Backend.
type Ledger struct {
	backend Backend
	mu      sync.Mutex
	log     *zap.Logger
}

func New(backend Backend, log *zap.Logger) *Ledger {
	return &Ledger{backend: backend, log: log}
}

// Execute runs fn as one transaction. The receipt is nil on failure.
func (l *Ledger) Execute(ctx context.Context, fn func(tx *Tx) error) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var receipt *Receipt
	err := l.backend.Update(ctx, func(r Reader) (Writes, error) {
		// Backends may retry the whole callback on conflict; start clean each time.
		tx := newTx(ctx, r, false)
		if err := fn(tx); err != nil {
			return nil, err
		}
		seq, err := tx.nextSeq()
		if err != nil {
			return nil, err
		}
		receipt = &Receipt{Seq: seq, Events: tx.events}
		return tx.writes, nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Debug("ledger tx committed",
		zap.Uint64("seq", receipt.Seq),
		zap.Int("events", len(receipt.Events)),
	)
	return receipt, nil
}

// Simulate runs fn exactly like Execute but discards its writes.
// The receipt's Seq is the one a commit would have been assigned.
func (l *Ledger) Simulate(ctx context.Context, fn func(tx *Tx) error) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var receipt *Receipt
	err := l.backend.View(ctx, func(r Reader) error {
		tx := newTx(ctx, r, false)
		if err := fn(tx); err != nil {
			return err
		}
		seq, err := tx.nextSeq()
		if err != nil {
			return err
		}
		receipt = &Receipt{Seq: seq, Events: tx.events}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// View runs fn against committed state; any write returns ErrReadOnly.
func (l *Ledger) View(ctx context.Context, fn func(tx *Tx) error) error {
	return l.backend.View(ctx, func(r Reader) error {
		return fn(newTx(ctx, r, true))
	})
}

// Close releases the backend.
func (l *Ledger) Close() error { return l.backend.Close() }

// Tx is the state handle passed to transaction callbacks.
type Tx struct {
	ctx      context.Context
	reader   Reader
	writes   Writes
	events   []Event
	readOnly bool
}

func newTx(ctx context.Context, r Reader, readOnly bool) *Tx {
	return &Tx{ctx: ctx, reader: r, writes: make(Writes), readOnly: readOnly}
}

// Context returns the context of the enclosing Execute call.
func (tx *Tx) Context() context.Context { return tx.ctx }

// Get returns a value, observing writes made earlier in the same transaction.
func (tx *Tx) Get(key string) (string, bool, error) {
	if v, ok := tx.writes[key]; ok {
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	}
	v, ok, err := tx.reader.Get(tx.ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("ledger get %s: %w", key, err)
	}
	return v, ok, nil
}

func (tx *Tx) Set(key, value string) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.writes[key] = &value
	return nil
}

func (tx *Tx) Delete(key string) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.writes[key] = nil
	return nil
}

// Emit records an event; events of a failed transaction are dropped with it.
func (tx *Tx) Emit(name string, fields map[string]string) {
	tx.events = append(tx.events, Event{Name: name, Fields: fields})
}

func (tx *Tx) nextSeq() (uint64, error) {
	raw, ok, err := tx.Get(seqKey)
	if err != nil {
		return 0, err
	}
	var seq uint64
	if ok {
		seq, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("ledger: corrupt sequence %q: %w", raw, err)
		}
	}
	seq++
	if err := tx.Set(seqKey, strconv.FormatUint(seq, 10)); err != nil {
		return 0, err
	}
	return seq, nil
}

// Seq returns the sequence number of the last committed transaction.
func (l *Ledger) Seq(ctx context.Context) (uint64, error) {
	var seq uint64
	err := l.View(ctx, func(tx *Tx) error {
		raw, ok, err := tx.Get(seqKey)
		if err != nil || !ok {
			return err
		}
		seq, err = strconv.ParseUint(raw, 10, 64)
		return err
	})
	return seq, err
}
