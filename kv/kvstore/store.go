package kvstore

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultNamespace is the keyspace used by Store.Default.
const DefaultNamespace = "default"

// Store is a local remote-store backed by BadgerDB. Every namespace is an
// isolated keyspace implementing kvsdk.Remote.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
}

// StoreOptions configures the BadgerDB store.
type StoreOptions struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
	// Logger receives store and BadgerDB logs. If nil, logging is disabled.
	Logger *zerolog.Logger
}

// New opens a BadgerDB-backed store.
func New(opts StoreOptions) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)

	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "kvstore").Logger()
		badgerOpts = badgerOpts.WithLogger(badgerLogger{logger})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger db")
	}

	return &Store{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the BadgerDB database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Namespace returns the keyspace with the given id. The keyspace does not
// have to be registered in the namespace catalog.
func (s *Store) Namespace(id string) *Keyspace {
	return &Keyspace{
		store:  s,
		ns:     id,
		prefix: keyspacePrefix(id),
	}
}

// Default returns the keyspace named DefaultNamespace.
func (s *Store) Default() *Keyspace {
	return s.Namespace(DefaultNamespace)
}

// badgerLogger routes BadgerDB logs to zerolog.
type badgerLogger struct {
	l zerolog.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error().Msgf(format, args...)
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn().Msgf(format, args...)
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Info().Msgf(format, args...)
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug().Msgf(format, args...)
}
