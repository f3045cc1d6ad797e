// Package secrets holds hot-reloadable process secrets such as the admin
// API key hash.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Loader retrieves secrets from a source.
type Loader func() (map[string]string, error)

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Getter returns a func reading key on every call.
func (v *Vault) Getter(key string) func() string {
	return func() string { return v.Get(key) }
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = newVals
	v.mu.Unlock()
	return nil
}

// ReloadOnSignal reloads the vault whenever a value arrives on sig, until
// ctx is done.
func (v *Vault) ReloadOnSignal(ctx context.Context, sig <-chan os.Signal) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-sig:
				if err := v.Reload(); err != nil {
					slog.Error("secret reload failed", "signal", s.String(), "error", err)
					continue
				}
				slog.Info("secrets reloaded", "signal", s.String())
			}
		}
	}()
}

// ReloadOnSIGHUP wires ReloadOnSignal to SIGHUP.
func (v *Vault) ReloadOnSIGHUP(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		<-ctx.Done()
		signal.Stop(ch)
	}()
	v.ReloadOnSignal(ctx, ch)
}
