package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/fxamacker/cbor/v2"
)

// Key layout:
//
//	e/<aggregate>/<version>  event record
//	h/<aggregate>            head version of the stream
//	l/<seq>                  global log entry pointing at an event key
//	s/<aggregate>            latest snapshot
const (
	badgerEventPrefix    = "e/"
	badgerHeadPrefix     = "h/"
	badgerLogPrefix      = "l/"
	badgerSnapshotPrefix = "s/"
	badgerSequenceKey    = "seq"
)

// BadgerEventStore is an embedded event store for single-node deployments.
type BadgerEventStore struct {
	db   *badger.DB
	seq  *badger.Sequence
	enc  cbor.EncMode
	opts options
}

type badgerRecord struct {
	ID            string `cbor:"1,keyasint"`
	AggregateID   string `cbor:"2,keyasint"`
	AggregateType string `cbor:"3,keyasint"`
	EventType     string `cbor:"4,keyasint"`
	Data          []byte `cbor:"5,keyasint"`
	Timestamp     int64  `cbor:"6,keyasint"`
	Version       int    `cbor:"7,keyasint"`
	Seq           uint64 `cbor:"8,keyasint"`
}

type badgerSnapshot struct {
	AggregateID   string `cbor:"1,keyasint"`
	AggregateType string `cbor:"2,keyasint"`
	Version       int    `cbor:"3,keyasint"`
	State         []byte `cbor:"4,keyasint"`
	CreatedAt     int64  `cbor:"5,keyasint"`
}

// OpenBadgerEventStore opens (or creates) a Badger database at dir.
func OpenBadgerEventStore(dir string, opts ...Option) (*BadgerEventStore, error) {
	o := newOptions(opts)

	badgerOpts := badger.DefaultOptions(dir)
	badgerOpts.Logger = o.logger
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}

	seq, err := db.GetSequence([]byte(badgerSequenceKey), 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open sequence: %w", err)
	}

	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		seq.Release()
		db.Close()
		return nil, err
	}

	return &BadgerEventStore{db: db, seq: seq, enc: enc, opts: o}, nil
}

// Close releases the sequence lease and closes the database.
func (es *BadgerEventStore) Close() error {
	if err := es.seq.Release(); err != nil {
		es.opts.logger.WithError(err).Warn("[BadgerEventStore] Failed to release sequence")
	}
	return es.db.Close()
}

func eventKey(aggregateID string, version int) []byte {
	return []byte(fmt.Sprintf("%s%s/%010d", badgerEventPrefix, aggregateID, version))
}

func streamPrefix(aggregateID string) []byte {
	return []byte(badgerEventPrefix + aggregateID + "/")
}

func headKey(aggregateID string) []byte {
	return []byte(badgerHeadPrefix + aggregateID)
}

func logKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", badgerLogPrefix, seq))
}

// Commit writes the batch in one Badger transaction. Every stream head is
// read inside the transaction, so a concurrent writer to the same stream
// makes the later commit fail with badger.ErrConflict.
func (es *BadgerEventStore) Commit(ctx context.Context, pending ...PendingEvent) ([]Event, error) {
	var events []Event
	err := es.db.Update(func(txn *badger.Txn) error {
		var err error
		events, err = buildEvents(pending, func(aggregateID string) (int, error) {
			return es.readHead(txn, aggregateID)
		}, time.Now().UTC())
		if err != nil {
			return err
		}

		heads := make(map[string]int)
		for _, e := range events {
			n, err := es.seq.Next()
			if err != nil {
				return fmt.Errorf("next sequence: %w", err)
			}
			raw, err := es.enc.Marshal(badgerRecord{
				ID:            e.ID,
				AggregateID:   e.AggregateID,
				AggregateType: e.AggregateType,
				EventType:     e.EventType,
				Data:          e.Data,
				Timestamp:     e.Timestamp.UnixNano(),
				Version:       e.Version,
				Seq:           n,
			})
			if err != nil {
				return err
			}
			key := eventKey(e.AggregateID, e.Version)
			if err := txn.Set(key, raw); err != nil {
				return err
			}
			if err := txn.Set(logKey(n), key); err != nil {
				return err
			}
			heads[e.AggregateID] = e.Version
		}

		for id, v := range heads {
			raw, err := es.enc.Marshal(v)
			if err != nil {
				return err
			}
			if err := txn.Set(headKey(id), raw); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return nil, fmt.Errorf("%w: %v", ErrVersionConflict, err)
	}
	if err != nil {
		return nil, err
	}

	publishAll(ctx, es.opts.logger, es.opts.publisher, events)
	return events, nil
}

func (es *BadgerEventStore) readHead(txn *badger.Txn, aggregateID string) (int, error) {
	item, err := txn.Get(headKey(aggregateID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	var v int
	if err := cbor.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("decode head of %s: %w", aggregateID, err)
	}
	return v, nil
}

func decodeBadgerEvent(raw []byte) (Event, error) {
	var rec badgerRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return Event{
		ID:            rec.ID,
		AggregateID:   rec.AggregateID,
		AggregateType: rec.AggregateType,
		EventType:     rec.EventType,
		Data:          rec.Data,
		Timestamp:     time.Unix(0, rec.Timestamp).UTC(),
		Version:       rec.Version,
	}, nil
}

func (es *BadgerEventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	return es.GetEventsFromVersion(ctx, aggregateID, 0)
}

func (es *BadgerEventStore) GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error) {
	var events []Event
	err := es.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := streamPrefix(aggregateID)
		for it.Seek(eventKey(aggregateID, fromVersion+1)); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			e, err := decodeBadgerEvent(raw)
			if err != nil {
				return err
			}
			events = append(events, e)
		}
		return nil
	})
	return events, err
}

// GetAllEvents walks the global log in sequence order.
func (es *BadgerEventStore) GetAllEvents(ctx context.Context) ([]Event, error) {
	var events []Event
	err := es.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerLogPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			item, err := txn.Get(key)
			if err != nil {
				return fmt.Errorf("log entry %s: %w", it.Item().Key(), err)
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			e, err := decodeBadgerEvent(raw)
			if err != nil {
				return err
			}
			events = append(events, e)
		}
		return nil
	})
	return events, err
}

func (es *BadgerEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	var snap *Snapshot
	err := es.db.View(func(txn *badger.Txn) error {
		s, err := es.readSnapshot(txn, aggregateID)
		snap = s
		return err
	})
	return snap, err
}

func (es *BadgerEventStore) readSnapshot(txn *badger.Txn, aggregateID string) (*Snapshot, error) {
	item, err := txn.Get([]byte(badgerSnapshotPrefix + aggregateID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var bs badgerSnapshot
	if err := cbor.Unmarshal(raw, &bs); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &Snapshot{
		AggregateID:   bs.AggregateID,
		AggregateType: bs.AggregateType,
		Version:       bs.Version,
		State:         bs.State,
		CreatedAt:     time.Unix(0, bs.CreatedAt).UTC(),
	}, nil
}

func (es *BadgerEventStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	err := es.db.Update(func(txn *badger.Txn) error {
		current, err := es.readSnapshot(txn, snapshot.AggregateID)
		if err != nil {
			return err
		}
		if current != nil && current.Version >= snapshot.Version {
			return nil
		}
		raw, err := es.enc.Marshal(badgerSnapshot{
			AggregateID:   snapshot.AggregateID,
			AggregateType: snapshot.AggregateType,
			Version:       snapshot.Version,
			State:         snapshot.State,
			CreatedAt:     snapshot.CreatedAt.UnixNano(),
		})
		if err != nil {
			return err
		}
		return txn.Set([]byte(badgerSnapshotPrefix+snapshot.AggregateID), raw)
	})
	// A concurrent snapshot write won; snapshots are only a cache.
	if errors.Is(err, badger.ErrConflict) {
		return nil
	}
	return err
}
