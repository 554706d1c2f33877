package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const jobKeyPrefix = "job:"

// BadgerStore persists jobs so they survive a restart.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// badgerLogger adapts zerolog to badger.Logger.
type badgerLogger struct {
	logger zerolog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.logger.Error().Msgf(strings.TrimSpace(msg), items...)
}

func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.logger.Warn().Msgf(strings.TrimSpace(msg), items...)
}

// badger is chatty at info level.
func (l *badgerLogger) Infof(msg string, items ...any) {
	l.logger.Debug().Msgf(strings.TrimSpace(msg), items...)
}

func (l *badgerLogger) Debugf(msg string, items ...any) {
	l.logger.Trace().Msgf(strings.TrimSpace(msg), items...)
}

// OpenBadger opens a job store in dir, or an in-memory one when inMemory.
func OpenBadger(dir string, inMemory bool) (*BadgerStore, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create job store directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: log.With().Str("component", "badger").Logger()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func jobKey(id string) []byte {
	return []byte(jobKeyPrefix + id)
}

func (s *BadgerStore) Save(job *Job) error {
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(jobKey(job.ID), value)
	})
}

func (s *BadgerStore) Get(id string) (*Job, error) {
	var job Job
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", id, err)
	}
	return &job, nil
}

func (s *BadgerStore) List() ([]*Job, error) {
	var out []*Job
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var job Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			out = append(out, &job)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	sortByRequested(out)
	return out, nil
}

func (s *BadgerStore) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(jobKey(id))
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
