package config

import (
	"crypto/rand"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	jwtSecretMu sync.RWMutex
	// jwtSecret overrides JWT_SECRET when set, see SetJWTSecret
	jwtSecret []byte

	generatedSecretOnce sync.Once
	generatedSecret     []byte
)

// SetJWTSecret temporarily changes the JWT secret and returns a function to restore it
// This is primarily used for testing
func SetJWTSecret(secret []byte) func() {
	jwtSecretMu.Lock()
	previous := jwtSecret
	jwtSecret = secret
	jwtSecretMu.Unlock()

	return func() {
		jwtSecretMu.Lock()
		jwtSecret = previous
		jwtSecretMu.Unlock()
	}
}

// GetJWTSecret returns the current JWT secret in a thread-safe manner.
// Without JWT_SECRET a random per-process secret is used, so sessions do not
// survive a restart.
func GetJWTSecret() []byte {
	jwtSecretMu.RLock()
	override := jwtSecret
	jwtSecretMu.RUnlock()

	if override != nil {
		return override
	}

	if value := GetEnvOrDefault("JWT_SECRET", ""); value != "" {
		return []byte(value)
	}

	generatedSecretOnce.Do(func() {
		generatedSecret = make([]byte, 32)
		if _, err := rand.Read(generatedSecret); err != nil {
			log.Fatal().Err(err).Msg("Failed to generate JWT secret")
		}
		log.Warn().Msg("JWT_SECRET not set - using a random secret, sessions will not survive restarts")
	})

	return generatedSecret
}
