package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// BadgerBackend is a durable, disk-based backend with serializable transactions.
type BadgerBackend struct {
	db       *badgerdb.DB
	log      *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
}

// NewBadgerBackend opens (or creates) a Badger database at dataPath.
// An empty dataPath opens an in-memory database.
func NewBadgerBackend(dataPath string, log *zap.Logger) (*BadgerBackend, error) {
	var opts badgerdb.Options
	if dataPath == "" {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		absPath, err := filepath.Abs(dataPath)
		if err != nil {
			return nil, fmt.Errorf("resolve ledger data path: %w", err)
		}
		opts = badgerdb.DefaultOptions(absPath)
		opts.SyncWrites = true
		opts.CompactL0OnClose = true
	}
	opts.Logger = &badgerLoggerAdapter{logger: log}
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger ledger at %q: %w", dataPath, err)
	}

	b := &BadgerBackend{db: db, log: log}
	if dataPath != "" {
		ctx, cancel := context.WithCancel(context.Background())
		b.gcCancel = cancel
		b.gcWg.Add(1)
		go b.runGC(ctx)
	}
	log.Info("badger ledger opened", zap.String("path", dataPath))
	return b, nil
}

func (b *BadgerBackend) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				b.log.Warn("badger ledger GC", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

type badgerReader struct {
	txn *badgerdb.Txn
}

func (r badgerReader) Get(_ context.Context, key string) (string, bool, error) {
	item, err := r.txn.Get([]byte(key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", false, err
	}
	return string(val), true, nil
}

func (b *BadgerBackend) Update(_ context.Context, fn func(r Reader) (Writes, error)) error {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := b.db.Update(func(txn *badgerdb.Txn) error {
			writes, err := fn(badgerReader{txn: txn})
			if err != nil {
				return err
			}
			for k, v := range writes {
				if v == nil {
					if err := txn.Delete([]byte(k)); err != nil {
						return err
					}
					continue
				}
				if err := txn.Set([]byte(k), []byte(*v)); err != nil {
					return err
				}
			}
			return nil
		})
		if errors.Is(err, badgerdb.ErrConflict) {
			b.log.Debug("ledger: badger tx conflict, retrying", zap.Int("attempt", attempt+1))
			continue
		}
		return err
	}
	return ErrConflict
}

func (b *BadgerBackend) View(_ context.Context, fn func(r Reader) error) error {
	return b.db.View(func(txn *badgerdb.Txn) error {
		return fn(badgerReader{txn: txn})
	})
}

func (b *BadgerBackend) Close() error {
	if b.gcCancel != nil {
		b.gcCancel()
		b.gcWg.Wait()
	}
	return b.db.Close()
}
