package config

import (
	"crypto/rand"
	"encoding/json"
	stderrors "errors"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/veea/vbus/errors"
)

const (
	passwordLength   = 22
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	bcryptCost       = 11
)

// Credentials is the content of a per-app credentials file.
type Credentials struct {
	Element ElementInfo `json:"element"`
	Auth    Auth        `json:"auth"`
	Private Private     `json:"private"`
	Server  Server      `json:"vbus"`
}

// ElementInfo identifies the app on the bus.
type ElementInfo struct {
	Path   string `json:"path"`
	Name   string `json:"name"`
	Host   string `json:"host"`
	UUID   string `json:"uuid"`
	Bridge string `json:"bridge"`
}

// Auth is published to the authorization service. Password holds the bcrypt
// hash, never the clear password.
type Auth struct {
	User        string      `json:"user"`
	Password    string      `json:"password"`
	Permissions Permissions `json:"permissions"`
}

// Permissions lists the subjects the user may use.
type Permissions struct {
	Subscribe []string `json:"subscribe"`
	Publish   []string `json:"publish"`
}

// Private holds the clear password used to connect.
type Private struct {
	Key string `json:"key"`
}

// Server remembers the last reachable NATS URL.
type Server struct {
	URL string `json:"url"`
}

// NewCredentials creates credentials with a random password for the app id
// ("<domain>.<app>") running on hostname.
func NewCredentials(id, hostname string) (*Credentials, error) {
	password, err := generatePassword(passwordLength)
	if err != nil {
		return nil, errors.WrapFatal(err, "Credentials", "NewCredentials", "generate password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, errors.WrapFatal(err, "Credentials", "NewCredentials", "hash password")
	}

	user := hostname + "." + id
	subjects := []string{">", id, id + ".>", user + ".>"}
	return &Credentials{
		Element: ElementInfo{
			Path:   id,
			Name:   id,
			Host:   hostname,
			UUID:   user,
			Bridge: "None",
		},
		Auth: Auth{
			User:     user,
			Password: string(hash),
			Permissions: Permissions{
				Subscribe: slices.Clone(subjects),
				Publish:   slices.Clone(subjects),
			},
		},
		Private: Private{Key: password},
	}, nil
}

// Verify reports whether the private key matches the published hash.
func (c *Credentials) Verify() bool {
	return bcrypt.CompareHashAndPassword([]byte(c.Auth.Password), []byte(c.Private.Key)) == nil
}

// Clone returns a copy that shares no permission slices with c.
func (c *Credentials) Clone() *Credentials {
	out := *c
	out.Auth.Permissions.Subscribe = slices.Clone(c.Auth.Permissions.Subscribe)
	out.Auth.Permissions.Publish = slices.Clone(c.Auth.Permissions.Publish)
	return &out
}

// AddPermission grants subject for subscribe and publish. It returns false
// when both were already granted.
func (c *Credentials) AddPermission(subject string) bool {
	changed := false
	if !slices.Contains(c.Auth.Permissions.Subscribe, subject) {
		c.Auth.Permissions.Subscribe = append(c.Auth.Permissions.Subscribe, subject)
		changed = true
	}
	if !slices.Contains(c.Auth.Permissions.Publish, subject) {
		c.Auth.Permissions.Publish = append(c.Auth.Permissions.Publish, subject)
		changed = true
	}
	return changed
}

func generatePassword(n int) (string, error) {
	limit := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}

// Store keeps credentials files in one folder, one "<id>.conf" per app.
type Store struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, opts ...StoreOption) *Store {
	s := &Store{dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "credentials")
	return s
}

// Dir returns the store folder.
func (s *Store) Dir() string {
	return s.dir
}

// File returns the credentials file of id.
func (s *Store) File(id string) string {
	return filepath.Join(s.dir, id+".conf")
}

// Load reads the credentials of id. A missing file yields an error matching
// os.ErrNotExist.
func (s *Store) Load(id string) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

func (s *Store) loadLocked(id string) (*Credentials, error) {
	data, err := safeReadFile(s.File(id))
	if err != nil {
		return nil, errors.Wrap(err, "Store", "Load", "read credentials")
	}
	if err := validateJSONDepth(data); err != nil {
		return nil, errors.WrapInvalid(err, "Store", "Load", "check credentials")
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, errors.WrapInvalid(err, "Store", "Load", "decode credentials")
	}
	return &creds, nil
}

// LoadOrCreate returns the stored credentials of id, creating and saving new
// ones on first use. The boolean reports whether they were created.
func (s *Store) LoadOrCreate(id, hostname string) (*Credentials, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.loadLocked(id)
	if err == nil {
		s.logger.Debug("Loaded credentials", "id", id)
		return creds, false, nil
	}
	if !stderrors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	s.logger.Debug("Creating credentials", "id", id, "file", s.File(id))
	creds, err = NewCredentials(id, hostname)
	if err != nil {
		return nil, false, err
	}
	if err := s.saveLocked(id, creds); err != nil {
		return nil, false, err
	}
	return creds, true, nil
}

// Save writes the credentials of id, creating the folder when needed.
func (s *Store) Save(id string, creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(id, creds)
}

func (s *Store) saveLocked(id string, creds *Credentials) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return errors.WrapFatal(err, "Store", "Save", "create folder")
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return errors.WrapInvalid(err, "Store", "Save", "encode credentials")
	}
	if err := safeWriteFile(s.File(id), data); err != nil {
		return errors.WrapTransient(err, "Store", "Save", "write credentials")
	}
	return nil
}
