package thresholds

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/fieldwatch/internal/logger"
	"github.com/tphakala/fieldwatch/internal/sensor"
)

const storeTimeout = 5 * time.Second

func getLogger() logger.Logger {
	return logger.Global().Module("thresholds")
}

// Key identifies a per-node override
type Key struct {
	SensorID   string      `json:"sensorId"`
	SensorType sensor.Type `json:"sensorType"`
}

// Override is a band pinned to one sensor node
type Override struct {
	Key
	Band Band `json:"band"`
}

// snapshot is never mutated after it is published
type snapshot struct {
	defaults  map[sensor.Type]Band
	overrides map[Key]Band
	policy    Policy
}

// Registry resolves bands per sensor. Safe for concurrent use.
type Registry struct {
	current atomic.Pointer[snapshot]
	mu      sync.Mutex // serializes writers
	store   OverrideStore

	// persistMu is held across an override change and its store write, so
	// the last band in memory is also the last one saved.
	persistMu sync.Mutex
}

// Option configures a Registry
type Option func(*Registry)

// WithStore persists overrides through store
func WithStore(store OverrideStore) Option {
	return func(r *Registry) { r.store = store }
}

// NewRegistry creates a registry holding the built-in defaults and policy
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(&snapshot{
		defaults:  maps.Clone(builtinDefaults),
		overrides: make(map[Key]Band),
		policy:    DefaultPolicy(),
	})
	return r
}

// Band returns the node override for (sensorID, t) if one exists,
// otherwise the default for t.
func (r *Registry) Band(sensorID string, t sensor.Type) (Band, bool) {
	s := r.current.Load()
	if b, ok := s.overrides[Key{SensorID: sensorID, SensorType: t}]; ok {
		return b, true
	}
	b, ok := s.defaults[t]
	return b, ok
}

// Default returns the default band for t
func (r *Registry) Default(t sensor.Type) (Band, bool) {
	b, ok := r.current.Load().defaults[t]
	return b, ok
}

// Override returns the node override for (sensorID, t), if any
func (r *Registry) Override(sensorID string, t sensor.Type) (Band, bool) {
	b, ok := r.current.Load().overrides[Key{SensorID: sensorID, SensorType: t}]
	return b, ok
}

// SetOverride pins band to one node. An invalid band fails with
// ErrInvalidBand and leaves the registry unchanged.
func (r *Registry) SetOverride(sensorID string, t sensor.Type, band Band) error {
	if !t.Valid() {
		return unknownType(sensorID, t)
	}
	if err := band.Validate(); err != nil {
		return invalidBand(err, sensorID, t, band)
	}

	key := Key{SensorID: sensorID, SensorType: t}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.update(func(s *snapshot) {
		s.overrides = maps.Clone(s.overrides)
		s.overrides[key] = band
	})

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.store.Save(ctx, Override{Key: key, Band: band}); err != nil {
			getLogger().Warn("failed to persist threshold override, keeping in memory",
				logger.String("sensor_id", sensorID),
				logger.String("sensor_type", string(t)),
				logger.Error(err))
		}
	}

	getLogger().Info("threshold override set",
		logger.String("sensor_id", sensorID),
		logger.String("sensor_type", string(t)),
		logger.Float64("min", band.Min),
		logger.Float64("max", band.Max))
	return nil
}

// ClearOverride removes a node override. It reports whether one existed.
func (r *Registry) ClearOverride(sensorID string, t sensor.Type) bool {
	key := Key{SensorID: sensorID, SensorType: t}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	existed := false
	r.update(func(s *snapshot) {
		if _, ok := s.overrides[key]; !ok {
			return
		}
		existed = true
		s.overrides = maps.Clone(s.overrides)
		delete(s.overrides, key)
	})

	if existed && r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.store.Delete(ctx, key); err != nil {
			getLogger().Warn("failed to delete persisted threshold override",
				logger.String("sensor_id", sensorID),
				logger.String("sensor_type", string(t)),
				logger.Error(err))
		}
	}
	return existed
}

// SetDefault replaces the default band of t
func (r *Registry) SetDefault(t sensor.Type, band Band) error {
	if !t.Valid() {
		return unknownType("", t)
	}
	if err := band.Validate(); err != nil {
		return invalidBand(err, "", t, band)
	}

	r.update(func(s *snapshot) {
		s.defaults = maps.Clone(s.defaults)
		s.defaults[t] = band
	})
	return nil
}

// Overrides returns all node overrides sorted by sensor id then type
func (r *Registry) Overrides() []Override {
	s := r.current.Load()
	out := make([]Override, 0, len(s.overrides))
	for k, b := range s.overrides {
		out = append(out, Override{Key: k, Band: b})
	}
	slices.SortFunc(out, func(a, b Override) int {
		return cmp.Or(cmp.Compare(a.SensorID, b.SensorID), cmp.Compare(a.SensorType, b.SensorType))
	})
	return out
}

// Policy returns the maintenance and firmware policy
func (r *Registry) Policy() Policy {
	return r.current.Load().policy.clone()
}

// SetPolicy replaces the maintenance and firmware policy
func (r *Registry) SetPolicy(p Policy) {
	p = p.clone()
	r.update(func(s *snapshot) { s.policy = p })
}

// Load restores persisted overrides. Invalid rows are skipped and logged.
func (r *Registry) Load(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}

	overrides, err := r.store.Load(ctx)
	if err != nil {
		return 0, err
	}

	loaded := make(map[Key]Band, len(overrides))
	for _, o := range overrides {
		if !o.SensorType.Valid() {
			getLogger().Warn("skipping persisted override with unknown sensor type",
				logger.String("sensor_id", o.SensorID),
				logger.String("sensor_type", string(o.SensorType)))
			continue
		}
		if err := o.Band.Validate(); err != nil {
			getLogger().Warn("skipping invalid persisted override",
				logger.String("sensor_id", o.SensorID),
				logger.String("sensor_type", string(o.SensorType)),
				logger.Error(err))
			continue
		}
		loaded[o.Key] = o.Band
	}

	r.update(func(s *snapshot) {
		merged := maps.Clone(s.overrides)
		maps.Copy(merged, loaded)
		s.overrides = merged
	})
	return len(loaded), nil
}

// update publishes a modified copy of the current snapshot
func (r *Registry) update(fn func(*snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := *r.current.Load()
	fn(&next)
	r.current.Store(&next)
}
