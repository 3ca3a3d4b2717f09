package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	docsBucket = "docs"
	feedBucket = "feed"
	metaBucket = "_meta"
)

// BoltBackend stores each collection as a top-level bbolt bucket with a
// "docs" sub-bucket (id -> current envelope) and a "feed" sub-bucket
// (big-endian sequence -> committed envelope). The feed retains one full
// envelope per write so the change feed replays every commit exactly once.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the database file at path. Failure to
// open surfaces as ErrStorageUnavailable so the caller can fall back to the
// memory backend or abort startup.
func OpenBolt(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageUnavailable, path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init %s: %v", ErrStorageUnavailable, path, err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Close() error { return b.db.Close() }

func collectionBuckets(tx *bolt.Tx, collection string, create bool) (docs, feed *bolt.Bucket, err error) {
	top := tx.Bucket([]byte(collection))
	if top == nil {
		if !create {
			return nil, nil, nil
		}
		if top, err = tx.CreateBucket([]byte(collection)); err != nil {
			return nil, nil, err
		}
	}
	if docs = top.Bucket([]byte(docsBucket)); docs == nil && create {
		if docs, err = top.CreateBucket([]byte(docsBucket)); err != nil {
			return nil, nil, err
		}
	}
	if feed = top.Bucket([]byte(feedBucket)); feed == nil && create {
		if feed, err = top.CreateBucket([]byte(feedBucket)); err != nil {
			return nil, nil, err
		}
	}
	return docs, feed, nil
}

func seqKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}

func (b *BoltBackend) Put(_ context.Context, collection string, doc *Document) (*Document, error) {
	stored := *doc
	err := b.db.Update(func(tx *bolt.Tx) error {
		docs, feed, err := collectionBuckets(tx, collection, true)
		if err != nil {
			return err
		}

		var currentRev int64
		if raw := docs.Get([]byte(doc.ID)); raw != nil {
			var current Document
			if err := json.Unmarshal(raw, &current); err != nil {
				return fmt.Errorf("%w: envelope for %s: %v", ErrMalformedData, doc.ID, err)
			}
			currentRev = current.Rev
		}
		if doc.Rev != currentRev {
			return fmt.Errorf("%w: %s has rev %d, caller sent %d", ErrConflict, doc.ID, currentRev, doc.Rev)
		}

		seq, err := feed.NextSequence()
		if err != nil {
			return err
		}
		stored.Rev = currentRev + 1
		stored.Seq = int64(seq)
		if stored.Deleted {
			stored.Body = nil
		}

		raw, err := json.Marshal(&stored)
		if err != nil {
			return err
		}
		if err := docs.Put([]byte(doc.ID), raw); err != nil {
			return err
		}
		return feed.Put(seqKey(seq), raw)
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (b *BoltBackend) Get(_ context.Context, collection, id string) (*Document, error) {
	var doc *Document
	err := b.db.View(func(tx *bolt.Tx) error {
		docs, _, err := collectionBuckets(tx, collection, false)
		if err != nil {
			return err
		}
		if docs == nil {
			return ErrNotFound
		}
		raw := docs.Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		doc = new(Document)
		if err := json.Unmarshal(raw, doc); err != nil {
			return fmt.Errorf("%w: envelope for %s: %v", ErrMalformedData, id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *BoltBackend) List(_ context.Context, collection, start, end string, limit int) ([]*Document, error) {
	var result []*Document
	err := b.db.View(func(tx *bolt.Tx) error {
		docs, _, err := collectionBuckets(tx, collection, false)
		if err != nil {
			return err
		}
		if docs == nil {
			return nil
		}
		c := docs.Cursor()
		k, v := c.First()
		if start != "" {
			k, v = c.Seek([]byte(start))
		}
		for ; k != nil; k, v = c.Next() {
			if end != "" && bytes.Compare(k, []byte(end)) >= 0 {
				break
			}
			var doc Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("%w: envelope for %s: %v", ErrMalformedData, k, err)
			}
			if doc.Deleted {
				continue
			}
			result = append(result, &doc)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (b *BoltBackend) Changes(_ context.Context, collection string, since int64, limit int) ([]Change, int64, error) {
	var (
		result []Change
		last   = since
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		_, feed, err := collectionBuckets(tx, collection, false)
		if err != nil {
			return err
		}
		if feed == nil {
			return nil
		}
		c := feed.Cursor()
		for k, v := c.Seek(seqKey(uint64(since) + 1)); k != nil; k, v = c.Next() {
			var doc Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("%w: feed entry %d: %v", ErrMalformedData, binary.BigEndian.Uint64(k), err)
			}
			result = append(result, changeFromDocument(&doc))
			last = doc.Seq
			if limit > 0 && len(result) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return result, last, nil
}

func (b *BoltBackend) UpdateSeq(_ context.Context, collection string) (int64, error) {
	var seq int64
	err := b.db.View(func(tx *bolt.Tx) error {
		_, feed, err := collectionBuckets(tx, collection, false)
		if err != nil {
			return err
		}
		if feed != nil {
			seq = int64(feed.Sequence())
		}
		return nil
	})
	return seq, err
}

func (b *BoltBackend) GetMeta(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(metaBucket)).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		value = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (b *BoltBackend) PutMeta(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(metaBucket)).Put([]byte(key), value)
	})
}
