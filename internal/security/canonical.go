package security

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/torrentnode/torrentnode/internal/domain"
)

// Canonical returns the canonical JSON encoding of v: object keys sorted,
// no insignificant whitespace, no HTML escaping, numbers kept verbatim.
// Two values that marshal to equal JSON documents canonicalize to equal bytes.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}

	// encoding/json sorts map keys and writes json.Number as-is.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// TaskSigningBytes returns the bytes a task signature covers: the canonical
// form of every field except the signature itself.
func TaskSigningBytes(t domain.Task) ([]byte, error) {
	return Canonical(t.Unsigned())
}

// SignTask stamps the signer's public key onto the task and signs it.
func SignTask(kp *Keypair, t *domain.Task) error {
	t.PublicKey = kp.PublicKeyHex()
	msg, err := TaskSigningBytes(*t)
	if err != nil {
		return err
	}
	t.Signature = hex.EncodeToString(kp.Sign(msg))
	return nil
}

// VerifyTask reports whether the task's signature was made by its embedded
// public key over its current contents. It never panics; any malformed
// field yields false.
func VerifyTask(t domain.Task) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if !t.IsSigned() {
		return false
	}
	msg, err := TaskSigningBytes(t)
	if err != nil {
		return false
	}
	return VerifyHex(msg, t.Signature, t.PublicKey)
}

func resultSigningBytes(env domain.ResultEnvelope) ([]byte, error) {
	env.Signature = ""
	return Canonical(env)
}

// SignResult signs a result envelope with the executing node's key.
func SignResult(kp *Keypair, env *domain.ResultEnvelope) error {
	env.PublicKey = kp.PublicKeyHex()
	msg, err := resultSigningBytes(*env)
	if err != nil {
		return err
	}
	env.Signature = hex.EncodeToString(kp.Sign(msg))
	return nil
}

// VerifyResult reports whether the envelope is signed by its embedded key.
func VerifyResult(env domain.ResultEnvelope) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if env.Signature == "" || env.PublicKey == "" {
		return false
	}
	msg, err := resultSigningBytes(env)
	if err != nil {
		return false
	}
	return VerifyHex(msg, env.Signature, env.PublicKey)
}
