// Package session loads and persists the bot's WhatsApp identity.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

var (
	// ErrNotFound means there is no stored identity and no way to get one.
	ErrNotFound = errors.New("no session found")
	// ErrSessionCorrupt means the stored or downloaded identity is unusable.
	ErrSessionCorrupt = errors.New("session corrupt")
)

const (
	dbFile       = "session.db"
	identityFile = "identity.json"
)

type Options struct {
	Dir            string
	SessionID      string
	SessionURL     string
	AllowQRPairing bool
	HTTPClient     *http.Client
	// FetchAttempts and FetchDelay bound the remote bootstrap.
	FetchAttempts int
	FetchDelay    time.Duration
}

// Identity is the record written next to the database after pairing.
type Identity struct {
	JID      string    `json:"jid"`
	PairedAt time.Time `json:"paired_at"`
}

type Store struct {
	opts Options
	log  zerolog.Logger

	db        *sql.DB
	container *sqlstore.Container

	wg     sync.WaitGroup
	saveMu sync.Mutex
}

func New(opts Options, log zerolog.Logger) *Store {
	if opts.FetchAttempts <= 0 {
		opts.FetchAttempts = 3
	}
	if opts.FetchDelay <= 0 {
		opts.FetchDelay = 2 * time.Second
	}
	return &Store{opts: opts, log: log}
}

func (s *Store) dbPath() string {
	return filepath.Join(s.opts.Dir, dbFile)
}

// Load opens the local session database, bootstrapping it from the remote
// archive when it is missing and a session id is configured. The returned
// device has no ID when the bot still needs to be paired.
func (s *Store) Load(ctx context.Context) (*store.Device, error) {
	if err := os.MkdirAll(s.opts.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	_, err := os.Stat(s.dbPath())
	switch {
	case errors.Is(err, os.ErrNotExist) && s.opts.SessionID != "":
		if err = s.bootstrap(ctx); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && !s.opts.AllowQRPairing:
		return nil, ErrNotFound
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to stat session database: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", s.dbPath()))
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	container := sqlstore.NewWithDB(db, "sqlite3", waLog.Zerolog(s.log.With().Str("component", "sqlstore").Logger()))
	if err = container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrSessionCorrupt, err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrSessionCorrupt, err)
	}
	if device.ID == nil && !s.opts.AllowQRPairing {
		_ = db.Close()
		return nil, ErrNotFound
	}
	s.db, s.container = db, container
	if device.ID != nil {
		s.log.Info().Stringer("jid", device.ID).Msg("Loaded stored session")
	} else {
		s.log.Info().Msg("No stored session, QR pairing required")
	}
	return device, nil
}

func (s *Store) bootstrap(ctx context.Context) error {
	if s.opts.SessionURL == "" {
		return fmt.Errorf("%w: session id set without a session URL", ErrNotFound)
	}
	s.log.Info().Msg("Downloading session archive")
	f := &Fetcher{
		Client:   s.opts.HTTPClient,
		BaseURL:  s.opts.SessionURL,
		Attempts: s.opts.FetchAttempts,
		Delay:    s.opts.FetchDelay,
		Log:      s.log,
	}
	text, err := f.Fetch(ctx, s.opts.SessionID)
	if err != nil {
		return err
	}
	raw, err := DecodeArchive(text)
	if err != nil {
		return err
	}
	tmp := s.dbPath() + ".tmp"
	if err = os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write session database: %w", err)
	}
	if err = os.Rename(tmp, s.dbPath()); err != nil {
		return fmt.Errorf("failed to write session database: %w", err)
	}
	s.log.Info().Int("bytes", len(raw)).Msg("Session archive restored")
	return nil
}

// Save records a credential update. The device keys themselves are written
// by whatsmeow; Save stores the identity record in the background and
// Close waits for it.
func (s *Store) Save(jid types.JID) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.writeIdentity(jid); err != nil {
			s.log.Warn().Err(err).Msg("Failed to save session identity")
		}
	}()
}

func (s *Store) writeIdentity(jid types.JID) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	data, err := json.Marshal(Identity{JID: jid.String(), PairedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	path := filepath.Join(s.opts.Dir, identityFile)
	if err = os.WriteFile(path+".tmp", data, 0o600); err != nil {
		return err
	}
	return os.Rename(path+".tmp", path)
}

// ReadIdentity returns the last saved identity record.
func (s *Store) ReadIdentity() (Identity, error) {
	var id Identity
	data, err := os.ReadFile(filepath.Join(s.opts.Dir, identityFile))
	if err != nil {
		return id, err
	}
	return id, json.Unmarshal(data, &id)
}

// Close waits for pending saves and closes the database. Call it after
// the socket is closed.
func (s *Store) Close() error {
	s.wg.Wait()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db, s.container = nil, nil
	return err
}
