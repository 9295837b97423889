package llm

import (
	"os"
	"time"
)

const (
	// EnvRelayMode is the environment variable name for mode selection.
	EnvRelayMode = "RELAY_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewModelClient creates a model client based on the RELAY_MODE
// environment variable. If RELAY_MODE=MOCK, returns a MockClient;
// otherwise returns a real Client.
func NewModelClient(baseURL, apiKey string, timeout time.Duration) ModelClient {
	if os.Getenv(EnvRelayMode) == ModeMock {
		return NewMockClient()
	}
	return NewClient(baseURL, apiKey, timeout)
}
