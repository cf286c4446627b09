package config

// GetPort returns the port the HTTP server listens on
func GetPort() string {
	return GetEnvOrDefault("PORT", "8080")
}

// GetCORSAllowedOrigins returns the browser origins allowed to call the API.
// An empty list allows all origins.
func GetCORSAllowedOrigins() []string {
	return splitList(GetEnvOrDefault("CORS_ALLOWED_ORIGINS", ""))
}

func GetLogLevel() string {
	return GetEnvOrDefault("LOG_LEVEL", "info")
}

// GetLogFormat returns "json" or "console"
func GetLogFormat() string {
	return GetEnvOrDefault("LOG_FORMAT", "json")
}
