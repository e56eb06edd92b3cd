// Package ledger implements the append-only State Ledger: every task
// state transition is written once and never mutated, backed by an
// embedded bbolt store (spec.md §4.4).
package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/swarmguard/schedulerd/internal/canon"
	"github.com/swarmguard/schedulerd/internal/taskstate"
)

var bucketStates = []byte("states")

const keySep = "\x00"

// Row is one ledger entry: a single (routine, instance, state, stamp)
// tuple.
type Row struct {
	Routine  string
	Instance time.Time
	State    taskstate.State
	Stamp    time.Time
}

// Ledger is a bbolt-backed append-only state table. Rows are keyed
// "{routine}\x00{instance}\x00{stamp}" so a single bucket, scanned with
// a key-ordered cursor, serves both required query shapes without ever
// building a query string — key construction is plain concatenation of
// already-validated, fixed-width fields, never user-supplied text, so
// there is no injection surface to parameterise against.
type Ledger struct {
	db *bbolt.DB
}

// Open creates or opens the ledger database at dbPath. If cleanStart is
// true, any existing rows are discarded (explicit operator opt-in per
// spec.md §4.4's "clean_start").
func Open(dbPath string, cleanStart bool) (*Ledger, error) {
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger db %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if cleanStart {
			_ = tx.DeleteBucket(bucketStates)
		}
		_, err := tx.CreateBucketIfNotExists(bucketStates)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("install ledger schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// OpenReadOnly opens the ledger database at dbPath without taking the
// exclusive write lock bbolt otherwise holds for the handle's life, so
// a status/execute invocation can inspect the ledger of an
// already-running instance without blocking on (and eventually timing
// out against) that instance's own open handle. The bucket is assumed
// to already exist, since a read-only transaction cannot create it.
func OpenReadOnly(dbPath string) (*Ledger, error) {
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open ledger db %s read-only: %w", dbPath, err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying database file.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func rowKey(routine string, instance, stamp time.Time) []byte {
	return []byte(routine + keySep + canon.FormatTime(instance) + keySep + fmt.Sprintf("%019d", stamp.UnixNano()))
}

// Append inserts a new row. The ledger never updates or deletes rows in
// place; every transition is a new key.
func (l *Ledger) Append(routine string, instance time.Time, state taskstate.State, stamp time.Time) error {
	row := Row{Routine: routine, Instance: instance, State: state, Stamp: stamp}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal ledger row: %w", err)
	}

	return l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketStates)
		return bucket.Put(rowKey(routine, instance, stamp), data)
	})
}

func hasPrefix(key, prefix []byte) bool {
	return len(key) >= len(prefix) && string(key[:len(prefix)]) == string(prefix)
}

// CurrentStatus returns the latest row for every (routine, instance)
// pair whose most recent state is one of the open states, ordered by
// instance then stamp. When routineFilter is non-empty, only that
// routine's rows are considered.
func (l *Ledger) CurrentStatus(routineFilter string) ([]Row, error) {
	var latest []Row

	err := l.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketStates)
		cursor := bucket.Cursor()

		var prefix []byte
		if routineFilter != "" {
			prefix = []byte(routineFilter + keySep)
		}

		var groupKey string
		var groupRow Row
		haveGroup := false

		flush := func() {
			if haveGroup && groupRow.State.Open() {
				latest = append(latest, groupRow)
			}
		}

		var k, v []byte
		if prefix != nil {
			k, v = cursor.Seek(prefix)
		} else {
			k, v = cursor.First()
		}
		for ; k != nil; k, v = cursor.Next() {
			if prefix != nil && !hasPrefix(k, prefix) {
				break
			}
			var row Row
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("decode ledger row: %w", err)
			}
			key := row.Routine + keySep + canon.FormatTime(row.Instance)
			if key != groupKey {
				flush()
				groupKey = key
				haveGroup = true
			}
			groupRow = row // rows within a group arrive in ascending stamp order
		}
		flush()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(latest, func(i, j int) bool {
		if !latest[i].Instance.Equal(latest[j].Instance) {
			return latest[i].Instance.Before(latest[j].Instance)
		}
		return latest[i].Stamp.Before(latest[j].Stamp)
	})
	return latest, nil
}

// TaskResult returns every row for the given (routine, instance) pair
// except Archived entries, newest first.
func (l *Ledger) TaskResult(routine string, instance time.Time) ([]Row, error) {
	prefix := []byte(routine + keySep + canon.FormatTime(instance) + keySep)
	var rows []Row

	err := l.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketStates)
		cursor := bucket.Cursor()

		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			var row Row
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("decode ledger row: %w", err)
			}
			if row.State == taskstate.Archived {
				continue
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}
