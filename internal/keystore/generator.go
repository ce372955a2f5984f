package keystore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

const defaultRSABits = 4096

// GenerateOptions selects the algorithm and parameters for a new key pair.
// Bits applies to rsa (modulus size, default 4096) and ecdsa (256 selects
// P-256, anything else P-384); ed25519 ignores it.
type GenerateOptions struct {
	Type string
	Bits int
	Name string
}

// GeneratedKey is a freshly generated, already-stored key pair. PrivateKey
// is the plaintext PEM; only the encrypted form ever touches disk.
type GeneratedKey struct {
	Record      Record
	PublicKey   string
	PrivateKey  string
	Fingerprint string
}

// Generator produces key pairs and persists them through a Store.
type Generator struct {
	store *Store
}

func NewGenerator(store *Store) *Generator {
	return &Generator{store: store}
}

func (g *Generator) Generate(opts GenerateOptions) (*GeneratedKey, error) {
	signer, pub, err := newKeyPair(opts)
	if err != nil {
		return nil, err
	}

	pemBlock, err := ssh.MarshalPrivateKey(signer, "")
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	privatePEM := string(pem.EncodeToMemory(pemBlock))

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	publicLine := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
	if opts.Name != "" {
		publicLine += " " + opts.Name
	}

	rec, err := g.store.Add(opts.Name, publicLine, privatePEM)
	if err != nil {
		return nil, err
	}

	return &GeneratedKey{
		Record:      rec.Redacted(),
		PublicKey:   publicLine,
		PrivateKey:  privatePEM,
		Fingerprint: rec.Fingerprint,
	}, nil
}

func newKeyPair(opts GenerateOptions) (crypto.PrivateKey, crypto.PublicKey, error) {
	switch opts.Type {
	case AlgorithmRSA:
		bits := opts.Bits
		if bits == 0 {
			bits = defaultRSABits
		}
		key, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, nil, fmt.Errorf("generate rsa key: %w", err)
		}
		return key, &key.PublicKey, nil

	case AlgorithmECDSA:
		curve := elliptic.P384()
		if opts.Bits == 256 {
			curve = elliptic.P256()
		}
		key, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("generate ecdsa key: %w", err)
		}
		return key, &key.PublicKey, nil

	case AlgorithmEd25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		return priv, pub, nil
	}

	return nil, nil, &UnsupportedTypeError{Algorithm: opts.Type}
}
