package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/pquerna/otp"
	"golang.org/x/crypto/bcrypt"
)

const (
	// OTPCodeLength is the number of digits in a login code
	OTPCodeLength = 6

	// DefaultCodeHashCost is the bcrypt cost for OTP code digests
	DefaultCodeHashCost = 10

	referenceBytes = 12
)

var otpCodeSpace = big.NewInt(1_000_000)

// GenerateOTPCode returns a uniformly random six-digit code, zero-padded
func GenerateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpCodeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp code: %w", err)
	}
	return otp.DigitsSix.Format(int32(n.Int64())), nil
}

// IsWellFormedCode reports whether code is exactly six ASCII digits
func IsWellFormedCode(code string) bool {
	if len(code) != OTPCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// SecretHasher hashes short-lived secrets and derives opaque references to them
type SecretHasher struct {
	cost   int
	refKey []byte
}

// NewSecretHasher creates a hasher. refKey keys the opaque references; when it is
// empty references fall back to a plain SHA-256 digest.
func NewSecretHasher(cost int, refKey []byte) *SecretHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCodeHashCost
	}
	return &SecretHasher{cost: cost, refKey: refKey}
}

// HashOneWay returns a salted bcrypt digest of secret
func (h *SecretHasher) HashOneWay(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(digest), nil
}

// VerifyOneWay compares secret with a digest from HashOneWay in constant time
func (h *SecretHasher) VerifyOneWay(secret, digest string) bool {
	if secret == "" || digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}

// Reference derives a deterministic, non-reversible token for logs and audit rows
func (h *SecretHasher) Reference(namespace, material string) string {
	return DeriveOpaqueReference(h.refKey, namespace, material)
}

// DeriveOpaqueReference returns namespace_<hex> where hex is a truncated
// HMAC-SHA256 of material under key
func DeriveOpaqueReference(key []byte, namespace, material string) string {
	var sum []byte
	if len(key) > 0 {
		mac := hmac.New(sha256.New, key)
		mac.Write([]byte(namespace))
		mac.Write([]byte{0})
		mac.Write([]byte(material))
		sum = mac.Sum(nil)
	} else {
		digest := sha256.Sum256([]byte(namespace + "\x00" + material))
		sum = digest[:]
	}
	return namespace + "_" + hex.EncodeToString(sum[:referenceBytes])
}
