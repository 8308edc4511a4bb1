package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mailgrant/mailgrant/internal/upstream"
)

// KeySize is the required encryption key length in bytes.
const KeySize = chacha20poly1305.KeySize

var (
	// ErrNotFound indicates no stored credential exists for the principal.
	ErrNotFound = errors.New("credential not found")

	// ErrDecrypt indicates a record that cannot be authenticated: wrong
	// key, corruption or tampering. The vault never returns garbage.
	ErrDecrypt = errors.New("credential record cannot be decrypted")
)

// Vault encrypts and persists upstream credentials, one record per
// principal, in a flat directory. The last writer wins on concurrent
// saves for the same principal; records are never partially visible to a
// reader because writes go through a rename.
type Vault struct {
	dir  string
	aead cipher.AEAD
}

// New opens a vault rooted at dir using the given 32-byte key. The
// directory is created if missing.
func New(dir string, key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating vault directory: %w", err)
	}
	return &Vault{dir: dir, aead: aead}, nil
}

// GenerateKey returns a fresh random encryption key. A key generated at
// process start and not persisted makes every stored record unreadable
// after a restart; supply a stable key in production.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Save serializes, encrypts and durably writes the credential for
// principal, replacing any prior record.
func (v *Vault) Save(principal string, cred *upstream.Credential) error {
	path, err := v.recordPath(principal)
	if err != nil {
		return err
	}

	plaintext, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("serializing credential: %w", err)
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	record := v.aead.Seal(nonce, nonce, plaintext, nil)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, record, 0o600); err != nil {
		return fmt.Errorf("writing credential record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("writing credential record: %w", err)
	}
	return nil
}

// Load decrypts and deserializes the credential for principal.
func (v *Vault) Load(principal string) (*upstream.Credential, error) {
	path, err := v.recordPath(principal)
	if err != nil {
		return nil, err
	}

	record, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential record: %w", err)
	}

	if len(record) < v.aead.NonceSize() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := record[:v.aead.NonceSize()], record[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}

	cred := &upstream.Credential{}
	if err := json.Unmarshal(plaintext, cred); err != nil {
		return nil, ErrDecrypt
	}
	return cred, nil
}

// recordPath maps a principal id to its record file. Principal ids are
// generated by the broker and URL-safe, but reject separators anyway so a
// crafted id can never escape the vault directory.
func (v *Vault) recordPath(principal string) (string, error) {
	if principal == "" || strings.ContainsAny(principal, "/\\") || strings.Contains(principal, "..") {
		return "", ErrNotFound
	}
	return filepath.Join(v.dir, principal+".cred"), nil
}
