package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

// ErrIndexEntryNotFound is returned when a (source, dest) key has no
// durable index entry. Grounded on store/store.go's ErrJobNotFound.
var ErrIndexEntryNotFound = errors.New("checkpoint: index entry not found")

var indexBucket = []byte("transfers")

// IndexRecord is what the durable index remembers about a transfer
// across process restarts: where its journal lives and whether it was
// a directory transfer, enough for the manager to reopen the journal
// and resume without re-deriving the (source, dest) pair from
// scratch. Adapted from store/store.go's JobRecord, which flattened
// this into a single-object job; IndexRecord instead only points at
// the journal that holds the authoritative, bit-exact state (§4.7
// remains the source of truth — this index exists purely so the
// manager can find that journal by key).
type IndexRecord struct {
	Source      string `json:"source"`
	Dest        string `json:"dest"`
	JournalPath string `json:"journal_path"`
	IsDirectory bool   `json:"is_directory"`
}

// Index is a durable, bbolt-backed map from (source, dest) to
// IndexRecord, so a resumable transfer can be located across process
// restarts without scanning the filesystem for journals. It
// supplements, and never replaces, the journal itself (§4.7 remains
// authoritative for the transfer's actual checkpoint state).
type Index struct {
	db *bbolt.DB
}

// OpenIndex opens (creating if absent) a durable index at path.
func OpenIndex(path string) (*Index, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open index: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(indexBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: create index bucket: %w", err)
	}
	return &Index{db: db}, nil
}

// Put upserts rec, keyed by "source|dest".
func (idx *Index) Put(key Key, rec IndexRecord) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(indexBucket)
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("checkpoint: marshal index record: %w", err)
		}
		return b.Put(indexKeyBytes(key), data)
	})
}

// Get retrieves the record for key, or ErrIndexEntryNotFound.
func (idx *Index) Get(key Key) (IndexRecord, error) {
	var rec IndexRecord
	err := idx.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(indexBucket)
		data := b.Get(indexKeyBytes(key))
		if data == nil {
			return ErrIndexEntryNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return IndexRecord{}, err
	}
	return rec, nil
}

// Delete removes key's index entry, if present.
func (idx *Index) Delete(key Key) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(indexBucket).Delete(indexKeyBytes(key))
	})
}

// Each visits every durable index entry.
func (idx *Index) Each(fn func(Key, IndexRecord) error) error {
	return idx.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(indexBucket).ForEach(func(k, v []byte) error {
			rec := IndexRecord{}
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			return fn(Key{Source: rec.Source, Dest: rec.Dest}, rec)
		})
	})
}

// Close closes the underlying bbolt database.
func (idx *Index) Close() error {
	return idx.db.Close()
}

func indexKeyBytes(key Key) []byte {
	return []byte(key.Source + "|" + key.Dest)
}
