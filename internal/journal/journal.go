// Package journal records in-flight image writes so files written by a request
// that never committed can be found and removed after a crash.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketIntents = []byte("intents")

// ErrUnknownIntent is returned when an intent id is not in the journal.
var ErrUnknownIntent = errors.New("journal: unknown intent")

// Intent is one write operation that has started writing files.
type Intent struct {
	ID        string    `json:"id"`
	Op        string    `json:"op"`
	Dir       string    `json:"dir"`
	Paths     []string  `json:"paths"`
	CreatedAt time.Time `json:"created_at"`
}

type Journal struct {
	db *bolt.DB
}

// Open opens or creates the journal file.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIntents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal bucket: %w", err)
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Begin records a new open intent for op writing into dir.
func (j *Journal) Begin(op, dir string) (*Intent, error) {
	in := &Intent{
		ID:        uuid.NewString(),
		Op:        op,
		Dir:       dir,
		CreatedAt: time.Now().UTC(),
	}
	if err := j.db.Update(func(tx *bolt.Tx) error {
		return put(tx, in)
	}); err != nil {
		return nil, fmt.Errorf("begin intent: %w", err)
	}
	return in, nil
}

// Add appends a written path to an open intent.
func (j *Journal) Add(id, path string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		in, err := get(tx, id)
		if err != nil {
			return err
		}
		in.Paths = append(in.Paths, path)
		return put(tx, in)
	})
}

// Done removes an intent. Unknown ids are ignored.
func (j *Journal) Done(id string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIntents).Delete([]byte(id))
	})
}

// Pending lists every open intent, oldest first.
func (j *Journal) Pending() ([]Intent, error) {
	var intents []Intent
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIntents).ForEach(func(k, v []byte) error {
			var in Intent
			if err := json.Unmarshal(v, &in); err != nil {
				return fmt.Errorf("decode intent %s: %w", k, err)
			}
			intents = append(intents, in)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(intents, func(a, b int) bool {
		return intents[a].CreatedAt.Before(intents[b].CreatedAt)
	})
	return intents, nil
}

func get(tx *bolt.Tx, id string) (*Intent, error) {
	v := tx.Bucket(bucketIntents).Get([]byte(id))
	if v == nil {
		return nil, ErrUnknownIntent
	}
	var in Intent
	if err := json.Unmarshal(v, &in); err != nil {
		return nil, fmt.Errorf("decode intent %s: %w", id, err)
	}
	return &in, nil
}

func put(tx *bolt.Tx, in *Intent) error {
	v, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketIntents).Put([]byte(in.ID), v)
}
