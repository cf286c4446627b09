package config

import (
	"testing"
)

func TestJWTSecretManagement(t *testing.T) {
	t.Run("env value is used", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "env-secret")
		if got := string(GetJWTSecret()); got != "env-secret" {
			t.Errorf("GetJWTSecret() = %s, want env-secret", got)
		}
	})

	t.Run("generated secret is stable", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		first := GetJWTSecret()
		second := GetJWTSecret()
		if len(first) != 32 || string(first) != string(second) {
			t.Errorf("Expected a stable 32 byte secret, got %d and %d bytes", len(first), len(second))
		}
	})

	t.Run("set and restore JWT secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "original")
		restore := SetJWTSecret([]byte("test-secret"))

		if string(GetJWTSecret()) != "test-secret" {
			t.Errorf("JWT secret not updated, got %s", string(GetJWTSecret()))
		}

		restore()

		if string(GetJWTSecret()) != "original" {
			t.Errorf("JWT secret not restored, got %s", string(GetJWTSecret()))
		}
	})

	t.Run("concurrent access to JWT secret", func(t *testing.T) {
		done := make(chan bool)
		for i := 0; i < 10; i++ {
			go func() {
				GetJWTSecret()
				done <- true
			}()
		}

		for i := 0; i < 10; i++ {
			<-done
		}
	})
}
