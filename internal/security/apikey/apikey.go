// Package apikey maneja las API keys de los clientes del servicio.
//
// Las keys se emiten una sola vez en texto plano (prefijo vf_ + 32 bytes
// aleatorios en base64url) y se persisten sólo hasheadas con argon2id en
// formato PHC. La verificación es constant-time.
package apikey

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const keyPrefix = "vf_"

type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	KeyLen      uint32
}

var Default = Params{Memory: 64 * 1024, Time: 3, Parallelism: 1, KeyLen: 32}

// Generate emite una API key nueva. Devuelve el plaintext (para mostrar una
// única vez) y el hash PHC para persistir.
func Generate(p Params) (plain, phc string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plain = keyPrefix + base64.RawURLEncoding.EncodeToString(raw)
	phc, err = Hash(p, plain)
	if err != nil {
		return "", "", err
	}
	return plain, phc, nil
}

// Hash devuelve un PHC string: $argon2id$v=19$m=...,t=...,p=...$<saltB64>$<dkB64>
func Hash(p Params, plain string) (string, error) {
	if plain == "" {
		return "", fmt.Errorf("empty api key")
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	dk := argon2.IDKey([]byte(plain), salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(dk),
	), nil
}

// Verify valida una key contra su hash PHC.
func Verify(plain, phc string) bool {
	if !strings.HasPrefix(plain, keyPrefix) {
		return false
	}
	// PHC: ["", "argon2id", "v=19", "m=..,t=..,p=..", saltB64, dkB64].
	// Sscanf no sirve acá: %s come hasta whitespace y se traga los $.
	parts := strings.Split(phc, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var v int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &v); err != nil || v != 19 {
		return false
	}
	var m, t, p int
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	dkStored, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(plain), salt, uint32(t), uint32(m), uint8(p), uint32(len(dkStored)))
	return subtle.ConstantTimeCompare(key, dkStored) == 1
}
