package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"

	"landmarkload/internal/report"
	"landmarkload/internal/runner"
	"landmarkload/internal/stats"
)

const (
	BucketRuns  = "runs"
	BucketIndex = "runs_by_time"
)

var ErrNotFound = errors.New("run not found")

// Record is what history keeps of a run: counters and summary, no attempts.
type Record struct {
	ID                string         `json:"id"`
	Timestamp         time.Time      `json:"timestamp"`
	Config            runner.Config  `json:"config"`
	Successful        int            `json:"successful"`
	TransportFailures int            `json:"transport_failures"`
	ResponseFailures  int            `json:"response_failures"`
	Elapsed           time.Duration  `json:"elapsed"`
	Summary           *stats.Summary `json:"summary,omitempty"`
}

func NewRecord(res *runner.RunResult, rep *report.Report) Record {
	return Record{
		ID:                res.ID,
		Timestamp:         res.Started,
		Config:            res.Config,
		Successful:        rep.Successful,
		TransportFailures: rep.TransportFailures,
		ResponseFailures:  rep.ResponseFailures,
		Elapsed:           rep.Elapsed,
		Summary:           rep.Summary,
	}
}

type Store struct {
	db *bbolt.DB
}

// DefaultPath is $HOME/.landmarkload/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".landmarkload", "history.db"), nil
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketRuns, BucketIndex} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// indexKey sorts by start time, then ID to break ties.
func indexKey(rec Record) []byte {
	key := make([]byte, 8, 8+len(rec.ID))
	binary.BigEndian.PutUint64(key, uint64(rec.Timestamp.UnixNano()))
	return append(key, rec.ID...)
}

func (s *Store) Save(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(BucketRuns)).Put([]byte(rec.ID), data); err != nil {
			return err
		}
		return tx.Bucket([]byte(BucketIndex)).Put(indexKey(rec), []byte(rec.ID))
	})
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]Record, error) {
	var items []Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(BucketRuns))
		c := tx.Bucket([]byte(BucketIndex)).Cursor()

		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			if limit > 0 && len(items) >= limit {
				break
			}
			v := runs.Get(id)
			if v == nil {
				continue
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode run %s: %w", id, err)
			}
			items = append(items, rec)
		}
		return nil
	})
	return items, err
}

func (s *Store) Get(id string) (*Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(BucketRuns)).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
