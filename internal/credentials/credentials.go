// Package credentials keeps per-provider credentials encrypted with
// AES-256-CBC for the lifetime of the process, optionally mirrored to disk.
package credentials

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/instantiate/internal/provider"
)

// ErrNotFound is returned when no credentials are stored for a provider.
var ErrNotFound = errors.New("credentials not found")

// Credentials is the decrypted credential blob for one provider.
// Fields not used by a vendor stay empty.
type Credentials struct {
	AccessKey string `json:"access_key,omitempty"` // access key id / client id / secret id
	SecretKey string `json:"secret_key,omitempty"` // secret key / client secret
	Token     string `json:"token,omitempty"`      // bearer token or API key
	Region    string `json:"region,omitempty"`     // default region
	ProjectID string `json:"project_id,omitempty"` // project / subscription id
	TenantID  string `json:"tenant_id,omitempty"`  // tenant / tenancy
	KeyFile   string `json:"key_file,omitempty"`   // path to a key file
}

// IsZero reports whether no field is set.
func (c Credentials) IsZero() bool {
	return c == Credentials{}
}

// Blob is an encrypted credential entry.
type Blob struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
}

// Backend persists encrypted blobs.
type Backend interface {
	Put(p provider.Kind, b Blob) error
	Delete(p provider.Kind) error
	Load() (map[provider.Kind]Blob, error)
	Close() error
}

// Reader is the read side adapters depend on.
type Reader interface {
	Get(p provider.Kind) (*Credentials, error)
}

// Store holds encrypted credentials keyed by provider.
type Store struct {
	mu        sync.RWMutex
	block     cipher.Block
	blobs     map[provider.Kind]Blob
	backend   Backend
	ephemeral bool
}

// Option configures a Store.
type Option func(*Store)

// WithBackend mirrors every write to b and loads existing blobs from it.
func WithBackend(b Backend) Option {
	return func(s *Store) {
		s.backend = b
	}
}

// NewStore creates a store encrypting with the given 32-byte key.
func NewStore(key []byte, opts ...Option) (*Store, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	s := &Store{
		block: block,
		blobs: make(map[provider.Kind]Blob),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.backend != nil {
		if err := s.loadBackend(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewStoreFromSecret derives the key from secret. A 64 character hex secret
// is used as-is; any other non-empty secret is hashed with SHA-256. An empty
// secret yields a random key, and the store is marked ephemeral.
func NewStoreFromSecret(secret string, opts ...Option) (*Store, error) {
	key, ephemeral, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	s, err := NewStore(key, opts...)
	if err != nil {
		return nil, err
	}
	s.ephemeral = ephemeral
	return s, nil
}

func deriveKey(secret string) ([]byte, bool, error) {
	if secret == "" {
		key := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, false, fmt.Errorf("generate key: %w", err)
		}
		return key, true, nil
	}
	if len(secret) == 64 {
		if key, err := hex.DecodeString(secret); err == nil {
			return key, false, nil
		}
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:], false, nil
}

// Ephemeral reports whether the key was generated for this process only.
func (s *Store) Ephemeral() bool {
	return s.ephemeral
}

func (s *Store) loadBackend() error {
	blobs, err := s.backend.Load()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	for p, b := range blobs {
		if _, err := s.open(b); err != nil {
			log.Warn().Err(err).Str("provider", string(p)).Msg("skipping stored credentials that cannot be decrypted")
			continue
		}
		s.blobs[p] = b
	}
	return nil
}

// Set encrypts and stores credentials for a provider, replacing any
// previous entry.
func (s *Store) Set(p provider.Kind, c Credentials) error {
	plain, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	b, err := s.encrypt(plain)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend != nil {
		if err := s.backend.Put(p, b); err != nil {
			return fmt.Errorf("persist credentials: %w", err)
		}
	}
	s.blobs[p] = b
	return nil
}

// Get decrypts the credentials for a provider.
func (s *Store) Get(p provider.Kind) (*Credentials, error) {
	s.mu.RLock()
	b, ok := s.blobs[p]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	return s.open(b)
}

func (s *Store) open(b Blob) (*Credentials, error) {
	plain, err := s.decrypt(b)
	if err != nil {
		return nil, err
	}
	var c Credentials
	if err := json.Unmarshal(plain, &c); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return &c, nil
}

// Has reports whether credentials exist for a provider.
func (s *Store) Has(p provider.Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[p]
	return ok
}

// Remove deletes the credentials for a provider.
func (s *Store) Remove(p provider.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[p]; !ok {
		return ErrNotFound
	}
	if s.backend != nil {
		if err := s.backend.Delete(p); err != nil {
			return fmt.Errorf("delete persisted credentials: %w", err)
		}
	}
	delete(s.blobs, p)
	return nil
}

// Providers lists providers with stored credentials, sorted.
func (s *Store) Providers() []provider.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kinds := make([]provider.Kind, 0, len(s.blobs))
	for k := range s.blobs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Close closes the backend, if any.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

func (s *Store) encrypt(plain []byte) (Blob, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Blob{}, fmt.Errorf("generate iv: %w", err)
	}
	padded := pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(s.block, iv).CryptBlocks(out, padded)
	return Blob{Ciphertext: out, IV: iv}, nil
}

func (s *Store) decrypt(b Blob) ([]byte, error) {
	if len(b.IV) != aes.BlockSize {
		return nil, fmt.Errorf("invalid iv length %d", len(b.IV))
	}
	if len(b.Ciphertext) == 0 || len(b.Ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid ciphertext length %d", len(b.Ciphertext))
	}
	out := make([]byte, len(b.Ciphertext))
	cipher.NewCBCDecrypter(s.block, b.IV).CryptBlocks(out, b.Ciphertext)
	return unpad(out, aes.BlockSize)
}

// pad applies PKCS#7 padding.
func pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, size int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("decrypt: empty plaintext")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > size || n > len(data) {
		return nil, errors.New("decrypt: bad padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("decrypt: bad padding")
		}
	}
	return data[:len(data)-n], nil
}

// Resolve fetches credentials for p from r, turning a missing or empty
// entry into the provider's CredentialsMissing error.
func Resolve(r Reader, p provider.Kind) (*Credentials, error) {
	if r == nil {
		return nil, provider.MissingCredentials(p)
	}
	c, err := r.Get(p)
	if errors.Is(err, ErrNotFound) || (err == nil && c.IsZero()) {
		return nil, provider.MissingCredentials(p)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: load credentials: %w", p, err)
	}
	return c, nil
}

// Static is a fixed in-memory Reader.
type Static map[provider.Kind]Credentials

// Get returns a copy of the entry for p.
func (s Static) Get(p provider.Kind) (*Credentials, error) {
	c, ok := s[p]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}
