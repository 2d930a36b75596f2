package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SecretKeySize is the length of the local at-rest key.
const SecretKeySize = 32

// Identity is a node's immutable identity: a node id used as its ledger
// address, a signing keypair and a symmetric key for local secrecy.
type Identity struct {
	NodeID    string
	Keypair   *Keypair
	SecretKey []byte
}

// NewNodeID derives a node id from random bytes and the current time:
// node_<8 hex>-<unix seconds>. Collision-resistant, not cryptographically unique.
func NewNodeID(now time.Time) string {
	return fmt.Sprintf("node_%s-%d", uuid.NewString()[:8], now.Unix())
}

// GenerateIdentity creates a fresh in-memory identity.
func GenerateIdentity() (*Identity, error) {
	kp, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}
	secret := make([]byte, SecretKeySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}
	return &Identity{
		NodeID:    NewNodeID(time.Now()),
		Keypair:   kp,
		SecretKey: secret,
	}, nil
}

// LoadOrCreateIdentity loads the identity stored in dataDir/keys or creates
// one on first run, so reputation and signatures survive restarts.
func LoadOrCreateIdentity(dataDir string) (*Identity, error) {
	kp, err := LoadOrCreateKeypair(dataDir)
	if err != nil {
		return nil, err
	}

	keyDir := filepath.Join(dataDir, "keys")
	secret, err := loadOrCreateSecret(filepath.Join(keyDir, "node.secret"))
	if err != nil {
		return nil, err
	}

	idPath := filepath.Join(keyDir, "node.id")
	nodeID := ""
	if b, err := os.ReadFile(idPath); err == nil {
		nodeID = strings.TrimSpace(string(b))
	}
	if nodeID == "" {
		nodeID = NewNodeID(time.Now())
		if err := os.WriteFile(idPath, []byte(nodeID), 0600); err != nil {
			return nil, fmt.Errorf("write node id: %w", err)
		}
	}

	return &Identity{NodeID: nodeID, Keypair: kp, SecretKey: secret}, nil
}

func loadOrCreateSecret(path string) ([]byte, error) {
	if b, err := os.ReadFile(path); err == nil {
		secret, err := hex.DecodeString(strings.TrimSpace(string(b)))
		if err != nil || len(secret) != SecretKeySize {
			return nil, fmt.Errorf("decode secret key %s: invalid key", path)
		}
		return secret, nil
	}

	secret := make([]byte, SecretKeySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0600); err != nil {
		return nil, fmt.Errorf("write secret key: %w", err)
	}
	return secret, nil
}

// PublicKeyHex returns the identity's public key in hex.
func (id *Identity) PublicKeyHex() string {
	return id.Keypair.PublicKeyHex()
}

// Sealer returns an at-rest sealer keyed by the identity's secret key.
func (id *Identity) Sealer() (*Sealer, error) {
	return NewSealer(id.SecretKey)
}
