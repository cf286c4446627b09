package config

import "time"

var (
	// SessionCookieName is the name of the session cookie
	// Default to "lingo_session" if not set in environment
	SessionCookieName = GetEnvOrDefault("SESSION_COOKIE_NAME", "lingo_session")
)

// GetSessionCookieName returns the configured session cookie name
func GetSessionCookieName() string {
	return SessionCookieName
}

// SetSessionCookieName temporarily changes the session cookie name and returns a function to restore it
// This is primarily used for testing
func SetSessionCookieName(name string) func() {
	previous := SessionCookieName
	SessionCookieName = name

	return func() {
		SessionCookieName = previous
	}
}

// GetSessionCookieSecure reports whether the cookie carries the Secure flag.
// Disable it for plain-http local development.
func GetSessionCookieSecure() bool {
	return parseEnvBool("SESSION_COOKIE_SECURE", true)
}

func GetSessionLifetime() time.Duration {
	return parseEnvDuration("SESSION_LIFETIME", 24*time.Hour)
}

// GetConversationTTL is how long an idle conversation is kept in storage
func GetConversationTTL() time.Duration {
	return parseEnvDuration("CONVERSATION_TTL", 24*time.Hour)
}
