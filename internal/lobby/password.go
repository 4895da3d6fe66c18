package lobby

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Clients never send plaintext passwords. The wire form is
// base64(md5(plaintext)); at rest that wire string is hashed again
// with argon2id. Rows written by old servers stored the wire form
// directly and are upgraded in place on the next successful login.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// ValidWirePassword checks that s decodes to exactly one MD5 digest.
func ValidWirePassword(s string) bool {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}
	return len(raw) == md5.Size
}

// WirePassword computes the wire form of a plaintext password. Used
// when the server itself picks a password during a reset.
func WirePassword(plaintext string) string {
	sum := md5.Sum([]byte(plaintext))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HashPassword derives the at-rest hash of a wire password.
func HashPassword(wire string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating password salt: %w", err)
	}
	key := argon2.IDKey([]byte(wire), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// VerifyPassword checks a wire password against the stored hash.
// upgrade is true when the row still holds the legacy raw wire form
// and should be re-hashed after a successful login.
func VerifyPassword(stored, wire string) (ok, upgrade bool) {
	if !strings.HasPrefix(stored, "$argon2id$") {
		// Legacy row: the wire hash itself is stored.
		return subtle.ConstantTimeCompare([]byte(stored), []byte(wire)) == 1, true
	}

	parts := strings.Split(stored, "$")
	if len(parts) != 6 {
		return false, false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, false
	}
	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, false
	}
	got := argon2.IDKey([]byte(wire), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, false
}

const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// RandomPassword generates a readable 10-character password for
// resets. Ambiguous glyphs are excluded from the alphabet.
func RandomPassword() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}
	for i, b := range buf {
		buf[i] = passwordAlphabet[int(b)%len(passwordAlphabet)]
	}
	return string(buf), nil
}
