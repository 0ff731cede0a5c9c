// Package offline decides, per operation, whether the client may talk to the
// server. The flag is re-read on every call so a connectivity change takes
// effect on the next operation.
package offline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
)

// SettingKey is the settings row holding the persisted flag.
const SettingKey = "offline_mode"

// Gate is consulted at the start of every data-fetch or save flow.
type Gate interface {
	Offline(ctx context.Context) bool
}

// Flag is an in-process gate.
type Flag struct {
	v atomic.Bool
}

func NewFlag(offline bool) *Flag {
	f := &Flag{}
	f.v.Store(offline)
	return f
}

func (f *Flag) Offline(context.Context) bool { return f.v.Load() }

func (f *Flag) Set(offline bool) { f.v.Store(offline) }

// SettingsStore is the durable key-value store holding the flag.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	PutSetting(ctx context.Context, key, value string) error
}

// SettingsGate reads the flag from the settings store on each call.
type SettingsGate struct {
	store SettingsStore
}

func NewSettingsGate(store SettingsStore) *SettingsGate {
	return &SettingsGate{store: store}
}

// Offline returns the persisted flag. When the flag cannot be read the client
// stays offline rather than risk remote calls it was told not to make.
func (g *SettingsGate) Offline(ctx context.Context) bool {
	v, ok, err := g.store.GetSetting(ctx, SettingKey)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read offline flag, assuming offline", "error", err)
		return true
	}
	if !ok {
		return false
	}
	offline, err := strconv.ParseBool(v)
	if err != nil {
		slog.WarnContext(ctx, "Invalid offline flag value, assuming offline", "value", v)
		return true
	}
	return offline
}

// SetOffline persists the flag.
func (g *SettingsGate) SetOffline(ctx context.Context, offline bool) error {
	if err := g.store.PutSetting(ctx, SettingKey, strconv.FormatBool(offline)); err != nil {
		return fmt.Errorf("persist offline flag: %w", err)
	}
	slog.InfoContext(ctx, "Offline mode updated", "offline", offline)
	return nil
}
