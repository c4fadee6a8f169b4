package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.etcd.io/bbolt"
)

const (
	BucketRounds = "rounds"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is one finished round of the escalation harness.
type Record struct {
	Seq           uint64        `json:"seq"`
	Timestamp     time.Time     `json:"timestamp"`
	RunID         string        `json:"run_id"`
	Connections   int           `json:"connections"`
	Sent          uint64        `json:"sent"`
	Received      uint64        `json:"received"`
	Throughput    float64       `json:"throughput"`
	PerConnection float64       `json:"per_connection"`
	Elapsed       time.Duration `json:"elapsed"`
	Failed        int           `json:"failed"`
}

// Store keeps round records in a bbolt file that lives only as long as the
// process: Close removes it.
type Store struct {
	db       *bbolt.DB
	filePath string
}

// NewStore creates a fresh database under dir. An empty dir means the
// system temp directory.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "mqttwrk")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Create a unique file for this process
	filename := fmt.Sprintf("rounds_%d.db", time.Now().UnixNano())
	path := filepath.Join(dir, filename)

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRounds))
		return err
	})
	if err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}

	return &Store{
		db:       db,
		filePath: path,
	}, nil
}

func (s *Store) Path() string {
	return s.filePath
}

func (s *Store) Close() error {
	if s.db != nil {
		s.db.Close()
	}
	// Cleanup the file, nothing outlives the process
	if s.filePath != "" {
		return os.Remove(s.filePath)
	}
	return nil
}

func key(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Save appends a record and returns its sequence number.
func (s *Store) Save(rec Record) (uint64, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRounds))

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.Seq = seq

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key(seq), data)
	})
	return rec.Seq, err
}

// List returns every record in the order it was saved.
func (s *Store) List() ([]Record, error) {
	var items []Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRounds)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var item Record
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("decode record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			items = append(items, item)
		}
		return nil
	})

	return items, err
}
