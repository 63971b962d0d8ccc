// Package auth holds the authentication state set by the host.
package auth

import (
	"sync"

	"github.com/retroplay/retroplay/pkg/logger"
)

// Identity is the current user of the app.
// An empty principal means nobody is logged in.
type Identity struct {
	mu        sync.RWMutex
	principal string
	log       *logger.Logger
	listeners []func(authenticated bool)
}

func NewIdentity(log *logger.Logger) *Identity {
	if log == nil {
		log = logger.Nop()
	}
	return &Identity{log: log.Module("auth")}
}

// SetPrincipal logs the user in.
func (i *Identity) SetPrincipal(principal string) {
	i.mu.Lock()
	i.principal = principal
	listeners := i.listeners
	i.mu.Unlock()
	i.log.Info().Str("principal", principal).Msg("login")
	for _, fn := range listeners {
		fn(principal != "")
	}
}

// Clear logs the user out.
func (i *Identity) Clear() { i.SetPrincipal("") }

func (i *Identity) IsAuthenticated() bool {
	_, ok := i.Principal()
	return ok
}

func (i *Identity) Principal() (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.principal, i.principal != ""
}

// OnChange adds a callback for login and logout.
func (i *Identity) OnChange(fn func(authenticated bool)) {
	i.mu.Lock()
	i.listeners = append(i.listeners, fn)
	i.mu.Unlock()
}
