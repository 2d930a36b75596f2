package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ─── Keypair ────────────────────────────────────────────────────────────────

func TestGenerateKeypair(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	if len(kp.Public) != 32 {
		t.Errorf("public key len = %d, want 32", len(kp.Public))
	}
	if len(kp.Private) != 64 {
		t.Errorf("private key len = %d, want 64", len(kp.Private))
	}
}

func TestGenerateKeypair_Unique(t *testing.T) {
	kp1, _ := GenerateKeypair()
	kp2, _ := GenerateKeypair()

	if kp1.PublicKeyHex() == kp2.PublicKeyHex() {
		t.Error("two generated keypairs should have different public keys")
	}
}

func TestSignVerify(t *testing.T) {
	kp, _ := GenerateKeypair()
	message := []byte("hello swarm")

	sig := kp.Sign(message)
	if len(sig) != 64 {
		t.Errorf("signature len = %d, want 64", len(sig))
	}
	if !Verify(message, sig, kp.Public) {
		t.Error("Verify() should return true for valid signature")
	}
}

func TestVerify_WrongKey(t *testing.T) {
	kp1, _ := GenerateKeypair()
	kp2, _ := GenerateKeypair()

	message := []byte("test message")
	sig := kp1.Sign(message)

	if Verify(message, sig, kp2.Public) {
		t.Error("Verify() should return false for wrong public key")
	}
}

func TestVerify_MalformedInputs(t *testing.T) {
	kp, _ := GenerateKeypair()
	msg := []byte("m")
	sig := kp.Sign(msg)

	if Verify(msg, sig[:10], kp.Public) {
		t.Error("short signature should not verify")
	}
	if Verify(msg, sig, kp.Public[:5]) {
		t.Error("short public key should not verify")
	}
	if VerifyHex(msg, "zz", kp.PublicKeyHex()) {
		t.Error("non-hex signature should not verify")
	}
	if VerifyHex(msg, "00", "not-hex") {
		t.Error("non-hex key should not verify")
	}
}

// ─── Persistence ────────────────────────────────────────────────────────────

func TestLoadOrCreateKeypair_Persistence(t *testing.T) {
	dir := t.TempDir()

	kp1, err := LoadOrCreateKeypair(dir)
	if err != nil {
		t.Fatalf("first LoadOrCreateKeypair() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "keys", "node.key")); err != nil {
		t.Fatalf("private key not written: %v", err)
	}

	kp2, err := LoadOrCreateKeypair(dir)
	if err != nil {
		t.Fatalf("second LoadOrCreateKeypair() error: %v", err)
	}
	if kp1.PublicKeyHex() != kp2.PublicKeyHex() {
		t.Error("reloaded keypair should match the stored one")
	}

	info, err := os.Stat(filepath.Join(dir, "keys", "node.key"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("private key perm = %o, want 600", perm)
	}
}

func TestLoadOrCreateKeypair_Corrupt(t *testing.T) {
	dir := t.TempDir()
	keyDir := filepath.Join(dir, "keys")
	os.MkdirAll(keyDir, 0700)
	os.WriteFile(filepath.Join(keyDir, "node.pub"), []byte("abcd"), 0644)
	os.WriteFile(filepath.Join(keyDir, "node.key"), []byte("not hex"), 0600)

	if _, err := LoadOrCreateKeypair(dir); err == nil {
		t.Error("corrupt key files should return an error")
	}
}

func TestLoadOrCreateIdentity_Stable(t *testing.T) {
	dir := t.TempDir()

	id1, err := LoadOrCreateIdentity(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity() error: %v", err)
	}
	id2, err := LoadOrCreateIdentity(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity() second call error: %v", err)
	}

	if id1.NodeID != id2.NodeID {
		t.Errorf("NodeID changed across loads: %q vs %q", id1.NodeID, id2.NodeID)
	}
	if string(id1.SecretKey) != string(id2.SecretKey) {
		t.Error("secret key changed across loads")
	}
	if id1.PublicKeyHex() != id2.PublicKeyHex() {
		t.Error("public key changed across loads")
	}
}

func TestNewNodeID_Format(t *testing.T) {
	now := time.Unix(1700000000, 0)
	id := NewNodeID(now)
	if !strings.HasPrefix(id, "node_") {
		t.Errorf("NodeID %q should start with node_", id)
	}
	if !strings.HasSuffix(id, "-1700000000") {
		t.Errorf("NodeID %q should end with the unix timestamp", id)
	}
	if len(id) != len("node_12345678-1700000000") {
		t.Errorf("NodeID %q has unexpected length", id)
	}
	if NewNodeID(now) == id {
		t.Error("two node ids at the same instant should differ")
	}
}

func TestGenerateIdentity(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity() error: %v", err)
	}
	if len(id.SecretKey) != SecretKeySize {
		t.Errorf("secret key len = %d, want %d", len(id.SecretKey), SecretKeySize)
	}
	if id.NodeID == "" {
		t.Error("NodeID should not be empty")
	}
}
