package store

import (
	"errors"
	"fmt"

	"github.com/boltdb/bolt"
)

// Section names. One bolt bucket per logical section; each value within a
// section is a whole gob-encoded document.
const (
	Accounts = "accounts"
	Stats    = "executionStats"
)

const documentKey = "doc"

// ErrNoSection is returned by Load when a section has never been saved.
// Callers treat it as "start empty", not as a failure.
var ErrNoSection = errors.New("store: section not found")

// Store is the durable state behind the engine: accounts and execution
// statistics survive restarts through it. Reservation pools are deliberately
// never written here; a reservation is only meaningful inside one
// opportunity's live window.
type Store struct {
	db *bolt.DB
}

func Open(filename string) (*Store, error) {
	db, err := bolt.Open(filename, 0666, nil)
	if err != nil {
		return nil, err
	}

	return &Store{db}, nil
}

// Save replaces the whole document held under section. Concurrent writers are
// serialized by the bolt update transaction, not by the caller.
func (s *Store) Save(section string, doc interface{}) error {
	encoded, err := serialize(doc)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(section))
		if err != nil {
			return err
		}

		return bkt.Put([]byte(documentKey), encoded)
	})
}

// Load reads the whole document held under section into received.
func (s *Store) Load(section string, received interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(section))
		if bkt == nil {
			return ErrNoSection
		}

		encoded := bkt.Get([]byte(documentKey))
		if encoded == nil {
			return ErrNoSection
		}

		if err := deserialize(encoded, received); err != nil {
			return fmt.Errorf("store: decode %q: %w", section, err)
		}

		return nil
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
