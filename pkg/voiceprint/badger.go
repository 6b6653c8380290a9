package voiceprint

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/voicelock/voicelock/pkg/sealed"
)

// Key layout:
//
//	vp:{identity}:{version:08d}  → msgpack-encoded Voiceprint (sealed when a codec is set)
//	head:{identity}              → decimal latest version number
//
// Records are append-only per identity; zero-padded versions keep
// lexicographic iteration order equal to version order. The head
// pointer is swapped in the same transaction that writes a new record,
// so readers see either the old version or the new one, never a mix.
const (
	recPrefix  = "vp:"
	headPrefix = "head:"
)

func recKey(identity string, version int) []byte {
	return fmt.Appendf(nil, "%s%s:%08d", recPrefix, identity, version)
}

func headKey(identity string) []byte {
	return []byte(headPrefix + identity)
}

// Badger is a Store implementation backed by BadgerDB v4.
type Badger struct {
	db    *badger.DB
	codec *sealed.Codec

	// writeMu serializes Put/Revoke. Reads go through snapshot
	// transactions and never block on it.
	writeMu sync.Mutex
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs BadgerDB without disk persistence. Useful for
	// testing against the real engine.
	InMemory bool

	// Passphrase, when non-empty, enables AES-256-GCM encryption of
	// every stored record via [sealed.New].
	Passphrase []byte

	// Logger sets the badger logger. If nil, badger's info/debug
	// output is suppressed and warnings go to slog.
	Logger badger.Logger
}

// NewBadger opens a BadgerDB-backed Store.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("voiceprint: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		dbOpts = dbOpts.WithLogger(opts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(quietLogger{})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: open badger: %w", err)
	}
	b := &Badger{db: db}
	if len(opts.Passphrase) > 0 {
		codec, err := sealed.New(opts.Passphrase)
		if err != nil {
			db.Close()
			return nil, err
		}
		b.codec = codec
	}
	return b, nil
}

func (b *Badger) encode(vp *Voiceprint) ([]byte, error) {
	data, err := msgpack.Marshal(vp)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: encode %s v%d: %w", vp.Identity, vp.Version, err)
	}
	if b.codec != nil {
		return b.codec.Seal(data)
	}
	return data, nil
}

func (b *Badger) decode(raw []byte) (*Voiceprint, error) {
	if b.codec != nil {
		var err error
		raw, err = b.codec.Open(raw)
		if err != nil {
			return nil, err
		}
	}
	var vp Voiceprint
	if err := msgpack.Unmarshal(raw, &vp); err != nil {
		return nil, fmt.Errorf("voiceprint: decode record: %w", err)
	}
	return &vp, nil
}

func (b *Badger) Put(_ context.Context, vp *Voiceprint) error {
	if err := validIdentity(vp.Identity); err != nil {
		return err
	}
	rec := vp.Clone()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.State = StateActive

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.db.Update(func(txn *badger.Txn) error {
		prev, err := readHead(txn, vp.Identity)
		if err != nil {
			return err
		}
		if prev > 0 {
			prevVP, err := b.readRecord(txn, vp.Identity, prev)
			if err != nil {
				return err
			}
			if prevVP.State == StateActive {
				prevVP.State = StateSuperseded
				if err := b.writeRecord(txn, prevVP); err != nil {
					return err
				}
			}
		}
		rec.Version = prev + 1
		if err := b.writeRecord(txn, rec); err != nil {
			return err
		}
		return txn.Set(headKey(vp.Identity), []byte(strconv.Itoa(rec.Version)))
	})
}

func (b *Badger) GetActive(_ context.Context, identity string) (*Voiceprint, error) {
	var vp *Voiceprint
	err := b.db.View(func(txn *badger.Txn) error {
		head, err := readHead(txn, identity)
		if err != nil {
			return err
		}
		if head == 0 {
			return ErrNotFound
		}
		vp, err = b.readRecord(txn, identity, head)
		return err
	})
	if err != nil {
		return nil, err
	}
	if vp.State != StateActive {
		return nil, ErrNotFound
	}
	return vp, nil
}

func (b *Badger) History(_ context.Context, identity string) ([]*Voiceprint, error) {
	var out []*Voiceprint
	err := b.db.View(func(txn *badger.Txn) error {
		return b.scanVersions(txn, identity, func(vp *Voiceprint) error {
			out = append(out, vp)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (b *Badger) Revoke(_ context.Context, identity string) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	found := false
	err := b.db.Update(func(txn *badger.Txn) error {
		return b.scanVersions(txn, identity, func(vp *Voiceprint) error {
			found = true
			if vp.State == StateRevoked {
				return nil
			}
			vp.State = StateRevoked
			return b.writeRecord(txn, vp)
		})
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (b *Badger) List(_ context.Context) iter.Seq2[Summary, error] {
	return func(yield func(Summary, error) bool) {
		err := b.db.View(func(txn *badger.Txn) error {
			prefix := []byte(headPrefix)
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.Prefix = prefix
			it := txn.NewIterator(iterOpts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				item := it.Item()
				identity := string(item.Key()[len(prefix):])
				raw, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				head, err := strconv.Atoi(string(raw))
				if err != nil {
					return fmt.Errorf("voiceprint: corrupt head pointer for %q: %w", identity, err)
				}
				vp, err := b.readRecord(txn, identity, head)
				if err != nil {
					return err
				}
				if !yield(summarize(vp), nil) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(Summary{}, err)
		}
	}
}

// attemptKey holds the serialized attempt-policy snapshot so lockouts
// survive restarts.
var attemptKey = []byte("al:snapshot")

// SaveAttemptState persists an attempt-policy snapshot next to the
// voiceprint records, sealed with the same codec when one is set.
func (b *Badger) SaveAttemptState(_ context.Context, data []byte) error {
	if b.codec != nil {
		var err error
		data, err = b.codec.Seal(data)
		if err != nil {
			return err
		}
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(attemptKey, data)
	})
}

// AttemptState returns the last saved attempt-policy snapshot, or nil
// when none has been saved.
func (b *Badger) AttemptState(_ context.Context) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(attemptKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if b.codec != nil {
			raw, err = b.codec.Open(raw)
			if err != nil {
				return err
			}
		}
		out = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) writeRecord(txn *badger.Txn, vp *Voiceprint) error {
	data, err := b.encode(vp)
	if err != nil {
		return err
	}
	return txn.Set(recKey(vp.Identity, vp.Version), data)
}

func (b *Badger) readRecord(txn *badger.Txn, identity string, version int) (*Voiceprint, error) {
	item, err := txn.Get(recKey(identity, version))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return b.decode(raw)
}

// scanVersions visits every version of an identity in ascending order.
func (b *Badger) scanVersions(txn *badger.Txn, identity string, visit func(*Voiceprint) error) error {
	prefix := []byte(recPrefix + identity + ":")
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Prefix = prefix
	it := txn.NewIterator(iterOpts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		raw, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		vp, err := b.decode(raw)
		if err != nil {
			return err
		}
		if err := visit(vp); err != nil {
			return err
		}
	}
	return nil
}

// readHead returns the latest version number for an identity, or 0
// when the identity is unknown.
func readHead(txn *badger.Txn, identity string) (int, error) {
	item, err := txn.Get(headKey(identity))
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
	head, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("voiceprint: corrupt head pointer for %q: %w", identity, err)
	}
	return head, nil
}

// quietLogger routes badger warnings and errors to slog and drops the
// chatty info/debug output.
type quietLogger struct{}

func (quietLogger) Errorf(f string, v ...interface{}) {
	slog.Error(fmt.Sprintf("badger: "+f, v...))
}
func (quietLogger) Warningf(f string, v ...interface{}) {
	slog.Warn(fmt.Sprintf("badger: "+f, v...))
}
func (quietLogger) Infof(string, ...interface{})  {}
func (quietLogger) Debugf(string, ...interface{}) {}
