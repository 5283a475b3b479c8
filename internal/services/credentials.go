package services

import (
	"net/http"
	"sync"
)

// Credentials holds the optional bearer credential attached to outgoing backend requests. The
// credential is invalidated when the backend rejects it, and there is no automatic retry or
// refresh; a collaborator is expected to Set a fresh one.
type Credentials struct {
	mu    sync.Mutex
	token string
}

// NewCredentials creates a Credentials holding the given token. An empty token means
// unauthenticated requests.
func NewCredentials(token string) *Credentials {
	return &Credentials{token: token}
}

// Token returns the current credential, or the empty string when none is held.
func (c *Credentials) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Set replaces the held credential.
func (c *Credentials) Set(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Invalidate discards the held credential. Called when the backend answers with an
// authentication failure.
func (c *Credentials) Invalidate() {
	c.Set("")
}

func (c *Credentials) authorize(req *http.Request) {
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
