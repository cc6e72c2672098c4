package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/BradenHooton/finvault/internal/models"
	"golang.org/x/crypto/hkdf"
)

const (
	// EnvelopeVersion tags ciphertexts produced by this cipher
	EnvelopeVersion = "v1"

	envelopeKeySize  = 32 // AES-256
	envelopeIVSize   = 12 // 96-bit GCM nonce
	envelopeTagSize  = 16 // 128-bit GCM tag
	maxKeyCandidates = 6

	keyDerivationInfo = "finvault/session-escrow/v1"
)

// Envelope is the self-describing ciphertext container
type Envelope struct {
	Version    string `json:"v"`
	IV         []byte `json:"iv"`
	AuthTag    []byte `json:"tag"`
	Ciphertext []byte `json:"ct"`
}

// String encodes the envelope as "version.iv.tag.ciphertext" using unpadded base64url
func (e Envelope) String() string {
	enc := base64.RawURLEncoding
	return strings.Join([]string{
		e.Version,
		enc.EncodeToString(e.IV),
		enc.EncodeToString(e.AuthTag),
		enc.EncodeToString(e.Ciphertext),
	}, ".")
}

// ParseEnvelope decodes the output of Envelope.String
func ParseEnvelope(s string) (Envelope, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return Envelope{}, fmt.Errorf("envelope has %d segments: %w", len(parts), models.ErrPayloadIntegrity)
	}
	if parts[0] != EnvelopeVersion {
		return Envelope{}, fmt.Errorf("unsupported envelope version %q: %w", parts[0], models.ErrPayloadIntegrity)
	}

	enc := base64.RawURLEncoding
	iv, err := enc.DecodeString(parts[1])
	if err != nil || len(iv) != envelopeIVSize {
		return Envelope{}, fmt.Errorf("malformed envelope iv: %w", models.ErrPayloadIntegrity)
	}
	tag, err := enc.DecodeString(parts[2])
	if err != nil || len(tag) != envelopeTagSize {
		return Envelope{}, fmt.Errorf("malformed envelope tag: %w", models.ErrPayloadIntegrity)
	}
	ct, err := enc.DecodeString(parts[3])
	if err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope ciphertext: %w", models.ErrPayloadIntegrity)
	}

	return Envelope{Version: parts[0], IV: iv, AuthTag: tag, Ciphertext: ct}, nil
}

// EnvelopeCipher seals payloads with AES-256-GCM under the primary key and
// opens them with any key in its ring, primary first.
type EnvelopeCipher struct {
	keys [][]byte
}

// NewEnvelopeCipher builds a key ring from the primary secret followed by the
// legacy secrets. Empty and duplicate secrets are skipped and the ring is capped
// at a small fixed size. An empty primary leaves the cipher unconfigured.
func NewEnvelopeCipher(primary string, legacy ...string) *EnvelopeCipher {
	c := &EnvelopeCipher{}
	if strings.TrimSpace(primary) == "" {
		return c
	}

	seen := make(map[string]bool)
	for _, secret := range append([]string{primary}, legacy...) {
		secret = strings.TrimSpace(secret)
		if secret == "" || seen[secret] {
			continue
		}
		seen[secret] = true
		c.keys = append(c.keys, DeriveKey(secret))
		if len(c.keys) == maxKeyCandidates {
			break
		}
	}
	return c
}

// DeriveKey turns a configured secret into a 32-byte key. Secrets that are
// already 32 raw bytes in hex or base64 are used as-is; anything else is
// stretched with HKDF-SHA256.
func DeriveKey(secret string) []byte {
	if raw, err := hex.DecodeString(secret); err == nil && len(raw) == envelopeKeySize {
		return raw
	}
	if raw, err := base64.StdEncoding.DecodeString(secret); err == nil && len(raw) == envelopeKeySize {
		return raw
	}

	key := make([]byte, envelopeKeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyDerivationInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails past 255*HashLen bytes of output
		panic(fmt.Sprintf("hkdf read: %v", err))
	}
	return key
}

// Configured reports whether a primary key is available
func (c *EnvelopeCipher) Configured() bool {
	return c != nil && len(c.keys) > 0
}

// KeyCount returns the number of candidate keys tried on decrypt
func (c *EnvelopeCipher) KeyCount() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// PrimaryKey returns the key used for new ciphertexts, or nil when unconfigured
func (c *EnvelopeCipher) PrimaryKey() []byte {
	if !c.Configured() {
		return nil
	}
	return c.keys[0]
}

// Encrypt seals plaintext under the primary key with a fresh random IV
func (c *EnvelopeCipher) Encrypt(plaintext []byte) (Envelope, error) {
	if !c.Configured() {
		return Envelope{}, fmt.Errorf("no encryption key configured: %w", models.ErrConfiguration)
	}

	gcm, err := newGCM(c.keys[0])
	if err != nil {
		return Envelope{}, err
	}

	iv := make([]byte, envelopeIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Envelope{}, fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, []byte(EnvelopeVersion))
	split := len(sealed) - envelopeTagSize

	return Envelope{
		Version:    EnvelopeVersion,
		IV:         iv,
		AuthTag:    sealed[split:],
		Ciphertext: sealed[:split],
	}, nil
}

// Decrypt opens an envelope with the first key in the ring that authenticates it
func (c *EnvelopeCipher) Decrypt(env Envelope) ([]byte, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("no encryption key configured: %w", models.ErrConfiguration)
	}
	if env.Version != EnvelopeVersion || len(env.IV) != envelopeIVSize || len(env.AuthTag) != envelopeTagSize {
		return nil, fmt.Errorf("malformed envelope: %w", models.ErrPayloadIntegrity)
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.AuthTag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.AuthTag...)

	for _, key := range c.keys {
		gcm, err := newGCM(key)
		if err != nil {
			return nil, err
		}
		if plaintext, err := gcm.Open(nil, env.IV, sealed, []byte(env.Version)); err == nil {
			return plaintext, nil
		}
	}

	return nil, fmt.Errorf("no configured key opened the envelope: %w", models.ErrPayloadIntegrity)
}

// SealJSON marshals v and returns the encoded envelope string
func (c *EnvelopeCipher) SealJSON(v interface{}) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	env, err := c.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return env.String(), nil
}

// OpenJSON decodes an envelope string and unmarshals the plaintext into v
func (c *EnvelopeCipher) OpenJSON(encoded string, v interface{}) error {
	env, err := ParseEnvelope(encoded)
	if err != nil {
		return err
	}
	plaintext, err := c.Decrypt(env)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("decrypted payload is not valid json: %w", models.ErrPayloadIntegrity)
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
