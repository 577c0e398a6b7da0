// Package dedup implements the notification cooldown window.
//
// The window only decides whether an outbound notification (and its
// history event) is emitted. Alert state is always updated by the caller.
package dedup

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/fieldwatch/internal/classifier"
)

// Default cooldowns per severity
const (
	DefaultLowCooldown      = 30 * time.Minute
	DefaultHighCooldown     = 10 * time.Minute
	DefaultCriticalCooldown = 2 * time.Minute
)

// Key identifies one dedup stream
type Key struct {
	SensorID  string
	AlertType classifier.AlertType
	Direction classifier.Direction
}

func (k Key) String() string {
	return k.SensorID + "|" + string(k.AlertType) + "|" + string(k.Direction)
}

// Entry records the last emission for a key
type Entry struct {
	Key           Key
	Severity      classifier.Severity
	LastEmittedAt time.Time
}

// Cooldowns holds the suppression period per severity
type Cooldowns struct {
	Low      time.Duration
	High     time.Duration
	Critical time.Duration
}

// DefaultCooldowns returns the built-in cooldowns
func DefaultCooldowns() Cooldowns {
	return Cooldowns{
		Low:      DefaultLowCooldown,
		High:     DefaultHighCooldown,
		Critical: DefaultCriticalCooldown,
	}
}

// For returns the cooldown of a severity. Normal has none.
func (c Cooldowns) For(s classifier.Severity) time.Duration {
	switch s {
	case classifier.Low:
		return c.Low
	case classifier.High:
		return c.High
	case classifier.Critical:
		return c.Critical
	default:
		return 0
	}
}

func (c Cooldowns) longest() time.Duration {
	return max(c.Low, c.High, c.Critical)
}

// Window tracks the last emission per key. Calls for the same key must
// be serialized by the caller; different keys may be used concurrently.
type Window struct {
	cooldowns Cooldowns
	entries   *cache.Cache
}

// New creates a window. Entries expire after the longest cooldown and are
// swept every cleanupInterval; zero disables the background sweep.
func New(cooldowns Cooldowns, cleanupInterval time.Duration) *Window {
	ttl := cooldowns.longest()
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &Window{
		cooldowns: cooldowns,
		entries:   cache.New(ttl, cleanupInterval),
	}
}

// ShouldEmit reports whether a notification for key at severity may be
// emitted at now, and records the emission when it may.
func (w *Window) ShouldEmit(key Key, severity classifier.Severity, now time.Time) bool {
	cooldown := w.cooldowns.For(severity)
	id := key.String()

	if v, ok := w.entries.Get(id); ok && cooldown > 0 {
		if e, ok := v.(Entry); ok && now.Sub(e.LastEmittedAt) < cooldown {
			return false
		}
	}

	w.entries.SetDefault(id, Entry{Key: key, Severity: severity, LastEmittedAt: now})
	return true
}

// Record marks key as emitted at now without checking the cooldown.
// Escalations use it so the following duplicates are suppressed.
func (w *Window) Record(key Key, severity classifier.Severity, now time.Time) {
	w.entries.SetDefault(key.String(), Entry{Key: key, Severity: severity, LastEmittedAt: now})
}

// Forget drops the entry for key so the next breach always notifies
func (w *Window) Forget(key Key) {
	w.entries.Delete(key.String())
}

// Lookup returns the entry for key, if present
func (w *Window) Lookup(key Key) (Entry, bool) {
	v, ok := w.entries.Get(key.String())
	if !ok {
		return Entry{}, false
	}
	e, ok := v.(Entry)
	return e, ok
}

// Len returns the number of tracked keys, expired ones included until swept
func (w *Window) Len() int {
	return w.entries.ItemCount()
}
