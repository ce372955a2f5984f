// Package keystore manages named SSH key records: fingerprinting,
// persistence as one JSON file per record, encryption of private material
// at rest, and generation of new key pairs.
package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/google/uuid"

	"github.com/halyard-ssh/halyard/internal/events"
)

// Supported key algorithms.
const (
	AlgorithmRSA     = "rsa"
	AlgorithmEd25519 = "ed25519"
	AlgorithmECDSA   = "ecdsa"
)

// Record is one stored key. EncryptedPrivateKey holds a fernet token when
// a private half is on file; List and Redacted never expose it.
type Record struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Algorithm           string    `json:"algorithm"`
	PublicKey           string    `json:"public_key"`
	EncryptedPrivateKey string    `json:"encrypted_private_key,omitempty"`
	Fingerprint         string    `json:"fingerprint"`
	CreatedAt           time.Time `json:"created_at"`

	// HasPrivateKey is derived, never persisted.
	HasPrivateKey bool `json:"has_private_key,omitempty"`
}

/// Redacted returns a copy safe to hand to callers: encrypted private
// material stripped, HasPrivateKey set.
func (r Record) Redacted() Record {
	r.HasPrivateKey = r.EncryptedPrivateKey != ""
	r.EncryptedPrivateKey = ""
	return r
}

// Store persists key records under dir, one <id>.json per record.
type Store struct {
	mu     sync.Mutex
	dir    string
	secret *fernet.Key
	bus    *events.Bus
}

func NewStore(dir string, secret *fernet.Key, bus *events.Bus) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	return &Store{dir: dir, secret: secret, bus: bus}, nil
}

// Add validates and persists a key. privateKey may be empty for
// public-only records; when present it is encrypted with the process
// secret before touching disk.
func (s *Store) Add(name, publicKey, privateKey string) (Record, error) {
	publicKey = strings.TrimSpace(publicKey)

	fp, err := Fingerprint(publicKey)
	if err != nil {
		return Record{}, err
	}
	alg, err := inferAlgorithm(publicKey)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:          uuid.New().String(),
		Name:        name,
		Algorithm:   alg,
		PublicKey:   publicKey,
		Fingerprint: fp,
		CreatedAt:   time.Now().UTC(),
	}
	if privateKey != "" {
		token, err := fernet.EncryptAndSign([]byte(privateKey), s.secret)
		if err != nil {
			return Record{}, &SecretUnavailableError{Err: err}
		}
		rec.EncryptedPrivateKey = string(token)
	}

	s.mu.Lock()
	err = writeRecord(s.recordPath(rec.ID), rec)
	s.mu.Unlock()
	if err != nil {
		return Record{}, err
	}

	s.bus.Publish(rec.ID, events.KeyAdded, rec.Name)
	return rec, nil
}

// Remove deletes a key record by id.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	rec, err := s.load(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	err = os.Remove(s.recordPath(id))
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("remove key %s: %w", id, err)
	}

	s.bus.Publish(id, events.KeyRemoved, rec.Name)
	return nil
}

// Get returns one record, redacted.
func (s *Store) Get(id string) (Record, error) {
	s.mu.Lock()
	rec, err := s.load(id)
	s.mu.Unlock()
	if err != nil {
		return Record{}, err
	}
	return rec.Redacted(), nil
}

// List returns all records ordered by creation time, private material
// redacted unconditionally.
func (s *Store) List() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read key directory: %w", err)
	}

	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := readRecord(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		records = append(records, rec.Redacted())
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// PrivateKey decrypts and returns the plaintext private key for one id.
// Absent record or absent private half both yield NotFoundError.
func (s *Store) PrivateKey(id string) (string, error) {
	s.mu.Lock()
	rec, err := s.load(id)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	if rec.EncryptedPrivateKey == "" {
		return "", &NotFoundError{ID: id}
	}

	// TTL 0 disables token expiry; stored keys do not age out.
	msg := fernet.VerifyAndDecrypt([]byte(rec.EncryptedPrivateKey), 0, []*fernet.Key{s.secret})
	if msg == nil {
		return "", &SecretUnavailableError{Err: fmt.Errorf("token verification failed for key %s", id)}
	}
	return string(msg), nil
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// load returns the raw (unredacted) record. Caller holds s.mu.
func (s *Store) load(id string) (Record, error) {
	rec, err := readRecord(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, &NotFoundError{ID: id}
		}
		return Record{}, err
	}
	return rec, nil
}

func readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode key record %s: %w", filepath.Base(path), err)
	}
	return rec, nil
}

func writeRecord(path string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode key record: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write key record: %w", err)
	}
	return nil
}

// inferAlgorithm maps the key type field of a public key line to one of
// the supported algorithm names. Only the first field is inspected; the
// base64 payload can contain any substring.
func inferAlgorithm(publicKey string) (string, error) {
	fields := strings.Fields(publicKey)
	if len(fields) == 0 {
		return "", &FormatError{Reason: "empty key"}
	}
	keyType := fields[0]
	switch {
	case strings.Contains(keyType, "ed25519"):
		return AlgorithmEd25519, nil
	case strings.HasPrefix(keyType, "ecdsa-sha2-"):
		return AlgorithmECDSA, nil
	case keyType == "ssh-rsa", strings.HasPrefix(keyType, "rsa-sha2-"):
		return AlgorithmRSA, nil
	}
	return "", &FormatError{Reason: "unrecognized key algorithm " + keyType}
}
