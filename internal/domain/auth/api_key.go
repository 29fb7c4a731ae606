package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidKey is returned when an API key matches no configured key.
var ErrInvalidKey = errors.New("invalid api key")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// Authenticator resolves raw API keys to operators.
type Authenticator struct {
	bySHA map[string]Key
	slow  []Key
}

// NewAuthenticator indexes keys. Keys with an unrecognized hash format are
// returned as an error so that misconfiguration fails at startup.
func NewAuthenticator(keys []Key) (*Authenticator, error) {
	a := &Authenticator{bySHA: make(map[string]Key)}
	for _, k := range keys {
		if !k.Role.IsValid() {
			return nil, fmt.Errorf("api key %q: unknown role %q", k.Name, k.Role)
		}
		switch DetectHashType(k.Hash) {
		case HashSHA256:
			a.bySHA[strings.ToLower(strings.TrimPrefix(k.Hash, "sha256:"))] = k
		case HashArgon2id:
			a.slow = append(a.slow, k)
		default:
			return nil, fmt.Errorf("api key %q: %w", k.Name, ErrUnknownHashType)
		}
	}
	return a, nil
}

// Enabled reports whether any key is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.bySHA)+len(a.slow) > 0
}

// Authenticate checks a raw key and returns the matching operator.
//
// SHA-256 keys are looked up directly; Argon2id keys are verified one by one.
func (a *Authenticator) Authenticate(rawKey string) (*Operator, error) {
	if rawKey == "" {
		return nil, ErrInvalidKey
	}
	if k, ok := a.bySHA[HashKey(rawKey)]; ok {
		return &Operator{Name: k.Name, Role: k.Role}, nil
	}
	for _, k := range a.slow {
		match, err := VerifyKey(rawKey, k.Hash)
		if err != nil {
			continue
		}
		if match {
			return &Operator{Name: k.Name, Role: k.Role}, nil
		}
	}
	return nil, ErrInvalidKey
}

// HashKey returns the SHA-256 hex digest of rawKey, the form stored as
// "sha256:<digest>" in the config file.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// argon2idParams meets the OWASP minimum (46 MiB, one pass, one lane).
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id returns a salted Argon2id PHC string for rawKey, e.g.
// $argon2id$v=19$m=48128,t=1,p=1$<salt>$<hash>.
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// HashType names the algorithm of a stored key hash.
type HashType string

const (
	HashArgon2id HashType = "argon2id"
	HashSHA256   HashType = "sha256"
	HashUnknown  HashType = "unknown"
)

// DetectHashType classifies a stored hash: an Argon2id PHC string, a
// "sha256:" prefixed digest or a bare 64-character hex digest.
func DetectHashType(storedHash string) HashType {
	switch {
	case strings.HasPrefix(storedHash, "$argon2id$"):
		return HashArgon2id
	case strings.HasPrefix(storedHash, "sha256:"):
		return HashSHA256
	case len(storedHash) == sha256.Size*2 && isHex(storedHash):
		return HashSHA256
	}
	return HashUnknown
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

// VerifyKey reports whether rawKey matches storedHash. SHA-256 digests are
// compared in constant time. An unrecognized format is ErrUnknownHashType.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case HashArgon2id:
		return compareArgon2id(rawKey, storedHash)
	case HashSHA256:
		want := strings.ToLower(strings.TrimPrefix(storedHash, "sha256:"))
		return subtle.ConstantTimeCompare([]byte(HashKey(rawKey)), []byte(want)) == 1, nil
	}
	return false, ErrUnknownHashType
}

// compareArgon2id turns the panic argon2 raises for zero time or
// parallelism parameters into an error.
func compareArgon2id(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match, err = false, fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}
