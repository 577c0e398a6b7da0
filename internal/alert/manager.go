package alert

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/fieldwatch/internal/classifier"
	"github.com/tphakala/fieldwatch/internal/dedup"
	"github.com/tphakala/fieldwatch/internal/logger"
	"github.com/tphakala/fieldwatch/internal/sensor"
)

// DefaultHysteresis is the number of consecutive normal readings that
// auto-resolve an open alert
const DefaultHysteresis = 3

func getLogger() logger.Logger {
	return logger.Global().Module("alert")
}

// Publisher receives events while the alert's key is locked.
// Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(Event)

// Publish calls f(e)
func (f PublisherFunc) Publish(e Event) { f(e) }

// entry tracks one alert. current is replaced, never mutated, so readers
// can load it without the key lock.
type entry struct {
	key     Key
	current atomic.Pointer[Alert]
	normals int // consecutive normal verdicts, guarded by the key lock
}

// Manager runs the alert state machine
type Manager struct {
	hysteresis int
	window     *dedup.Window
	publisher  Publisher
	snapshots  func(Alert)
	now        func() time.Time

	locks keyedMutex
	open  sync.Map // Key -> *entry, open or acknowledged only
	byID  sync.Map // alert id -> *entry, until purged
}

// Option configures a Manager
type Option func(*Manager)

// WithHysteresis sets the consecutive-normal count for auto-resolve
func WithHysteresis(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.hysteresis = n
		}
	}
}

// WithWindow sets the dedup window gating notifications
func WithWindow(w *dedup.Window) Option {
	return func(m *Manager) { m.window = w }
}

// WithPublisher sets the event publisher
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithSnapshotSink receives alert changes that were withheld by the dedup
// window, so storage still sees the new occurrence count.
func WithSnapshotSink(sink func(Alert)) Option {
	return func(m *Manager) { m.snapshots = sink }
}

// WithClock sets the time source used for manual operations
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager. Without a window every event is emitted.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		hysteresis: DefaultHysteresis,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Input is one classified reading for the state machine
type Input struct {
	SensorID   string
	AlertType  classifier.AlertType
	SensorType sensor.Type
	Verdict    classifier.Verdict
	Value      float64
	Title      string
	Message    string
	At         time.Time
}

// Outcome is what Evaluate did
type Outcome struct {
	Events     []Event // emitted and published events
	Suppressed int     // notifications withheld by the dedup window
	Alerts     []Alert // snapshots of every alert touched
}

func (o *Outcome) add(other Outcome) {
	o.Events = append(o.Events, other.Events...)
	o.Suppressed += other.Suppressed
	o.Alerts = append(o.Alerts, other.Alerts...)
}

// Evaluate applies one verdict. A breach opens or updates the alert of its
// key; a normal verdict counts toward auto-resolving open alerts of the
// same sensor and alert type in either direction.
func (m *Manager) Evaluate(in Input) Outcome {
	if in.Verdict.IsNormal() {
		var out Outcome
		for _, dir := range []classifier.Direction{classifier.Below, classifier.Above} {
			out.add(m.recordNormal(Key{SensorID: in.SensorID, AlertType: in.AlertType, Direction: dir}, in.At))
		}
		return out
	}

	// a breach on one side interrupts the normal run of an alert open on
	// the other side
	if opposite, ok := oppositeOf(in.Verdict.Direction); ok {
		m.resetNormals(Key{SensorID: in.SensorID, AlertType: in.AlertType, Direction: opposite})
	}

	key := Key{SensorID: in.SensorID, AlertType: in.AlertType, Direction: in.Verdict.Direction}
	return m.recordBreach(key, in)
}

func oppositeOf(d classifier.Direction) (classifier.Direction, bool) {
	switch d {
	case classifier.Below:
		return classifier.Above, true
	case classifier.Above:
		return classifier.Below, true
	}
	return classifier.None, false
}

func (m *Manager) resetNormals(key Key) {
	if _, ok := m.open.Load(key); !ok {
		return
	}
	unlock := m.locks.lock(key)
	defer unlock()
	if e, ok := m.loadOpen(key); ok {
		e.normals = 0
	}
}

// RaiseCondition opens or updates a non-reading alert such as a system
// fault or overdue maintenance. The same uniqueness rule applies.
func (m *Manager) RaiseCondition(sensorID string, alertType classifier.AlertType, severity classifier.Severity, title, message string, at time.Time) (Outcome, error) {
	if alertType != classifier.AlertSystem && alertType != classifier.AlertMaintenance {
		return Outcome{}, invalidCondition(sensorID, "alert type must be system or maintenance")
	}
	if severity == classifier.Normal {
		return Outcome{}, invalidCondition(sensorID, "severity must not be normal")
	}

	key := Key{SensorID: sensorID, AlertType: alertType, Direction: classifier.None}
	return m.recordBreach(key, Input{
		SensorID:  sensorID,
		AlertType: alertType,
		Verdict:   classifier.Verdict{Severity: severity, Direction: classifier.None},
		Title:     title,
		Message:   message,
		At:        at,
	}), nil
}

// ClearCondition resolves the open system or maintenance alert of sensorID
func (m *Manager) ClearCondition(sensorID string, alertType classifier.AlertType, note string) (Outcome, bool) {
	key := Key{SensorID: sensorID, AlertType: alertType, Direction: classifier.None}

	unlock := m.locks.lock(key)
	defer unlock()

	e, ok := m.loadOpen(key)
	if !ok {
		return Outcome{}, false
	}
	now := m.now()
	a := e.current.Load().Clone()
	a.Status = StatusResolved
	a.StatusChangedAt = now
	a.StatusNote = note
	a.Actions = append(a.Actions, Action{Action: ActionResolve, Note: note, At: now})
	m.close(e, a)

	ev := m.emit(EventResolved, a, now)
	return Outcome{Events: []Event{ev}, Alerts: []Alert{*a}}, true
}

func (m *Manager) recordBreach(key Key, in Input) Outcome {
	unlock := m.locks.lock(key)
	defer unlock()

	e, ok := m.loadOpen(key)
	if !ok {
		return m.create(key, in)
	}

	e.normals = 0
	prev := e.current.Load()
	a := prev.Clone()
	a.LastSeenAt = in.At
	a.Value = in.Value
	a.OccurrenceCount++
	if in.Message != "" {
		a.Message = in.Message
	}

	// severity only ever increases while the alert is open
	if in.Verdict.Severity > prev.Severity {
		a.Severity = in.Verdict.Severity
		if in.Title != "" {
			a.Title = in.Title
		}
		a.Actions = append(a.Actions, Action{
			Action: ActionEscalate,
			Note:   prev.Severity.String() + " -> " + a.Severity.String(),
			At:     in.At,
		})
		e.current.Store(a)
		if m.window != nil {
			m.window.Record(key, a.Severity, in.At)
		}

		getLogger().Info("alert escalated",
			logger.String("alert_id", a.ID),
			logger.String("sensor_id", a.SensorID),
			logger.String("from", prev.Severity.String()),
			logger.String("to", a.Severity.String()))

		ev := m.emit(EventEscalated, a, in.At)
		return Outcome{Events: []Event{ev}, Alerts: []Alert{*a}}
	}

	e.current.Store(a)
	if m.window != nil && !m.window.ShouldEmit(key, a.Severity, in.At) {
		return m.suppress(a)
	}
	ev := m.emit(EventUpdated, a, in.At)
	return Outcome{Events: []Event{ev}, Alerts: []Alert{*a}}
}

func (m *Manager) create(key Key, in Input) Outcome {
	a := &Alert{
		ID:              uuid.NewString(),
		SensorID:        in.SensorID,
		AlertType:       in.AlertType,
		SensorType:      in.SensorType,
		Severity:        in.Verdict.Severity,
		Direction:       in.Verdict.Direction,
		Value:           in.Value,
		Title:           in.Title,
		Message:         in.Message,
		OpenedAt:        in.At,
		LastSeenAt:      in.At,
		Status:          StatusOpen,
		StatusChangedAt: in.At,
		OccurrenceCount: 1,
		Actions:         []Action{},
	}

	e := &entry{key: key}
	e.current.Store(a)
	m.open.Store(key, e)
	m.byID.Store(a.ID, e)

	getLogger().Info("alert opened",
		logger.String("alert_id", a.ID),
		logger.String("sensor_id", a.SensorID),
		logger.String("alert_type", string(a.AlertType)),
		logger.String("severity", a.Severity.String()),
		logger.String("direction", string(a.Direction)),
		logger.Float64("value", a.Value))

	if m.window != nil && !m.window.ShouldEmit(key, a.Severity, in.At) {
		return m.suppress(a)
	}
	ev := m.emit(EventCreated, a, in.At)
	return Outcome{Events: []Event{ev}, Alerts: []Alert{*a}}
}

func (m *Manager) recordNormal(key Key, at time.Time) Outcome {
	// cheap check before taking the lock; re-checked below
	if _, ok := m.open.Load(key); !ok {
		return Outcome{}
	}

	unlock := m.locks.lock(key)
	defer unlock()

	e, ok := m.loadOpen(key)
	if !ok {
		return Outcome{}
	}

	e.normals++
	if e.normals < m.hysteresis {
		return Outcome{}
	}
	e.normals = 0

	a := e.current.Load().Clone()
	a.Status = StatusResolved
	a.StatusChangedAt = at
	a.StatusNote = AutoResolveNote
	a.Actions = append(a.Actions, Action{Action: ActionAutoResolve, Note: AutoResolveNote, At: at})
	m.close(e, a)

	getLogger().Info("alert auto-resolved",
		logger.String("alert_id", a.ID),
		logger.String("sensor_id", a.SensorID),
		logger.Int("hysteresis", m.hysteresis))

	ev := m.emit(EventResolved, a, at)
	return Outcome{Events: []Event{ev}, Alerts: []Alert{*a}}
}

// Acknowledge moves an open alert to acknowledged
func (m *Manager) Acknowledge(id, note string) (Alert, Event, error) {
	return m.transition(id, "acknowledge", func(a *Alert) (EventType, bool) {
		if a.Status != StatusOpen {
			return "", false
		}
		a.Status = StatusAcknowledged
		return EventAcknowledged, true
	}, ActionAcknowledge, note)
}

// Resolve closes an open or acknowledged alert
func (m *Manager) Resolve(id, note string) (Alert, Event, error) {
	return m.transition(id, "resolve", func(a *Alert) (EventType, bool) {
		if !a.Status.IsOpen() {
			return "", false
		}
		a.Status = StatusResolved
		return EventResolved, true
	}, ActionResolve, note)
}

// Dismiss closes an open or acknowledged alert without resolving the cause
func (m *Manager) Dismiss(id, note string) (Alert, Event, error) {
	return m.transition(id, "dismiss", func(a *Alert) (EventType, bool) {
		if !a.Status.IsOpen() {
			return "", false
		}
		a.Status = StatusDismissed
		return EventDismissed, true
	}, ActionDismiss, note)
}

func (m *Manager) transition(id, op string, apply func(*Alert) (EventType, bool), action ActionType, note string) (Alert, Event, error) {
	v, ok := m.byID.Load(id)
	if !ok {
		return Alert{}, Event{}, notFound(id)
	}
	e := v.(*entry)

	unlock := m.locks.lock(e.key)
	defer unlock()

	prev := e.current.Load()
	a := prev.Clone()
	evType, ok := apply(a)
	if !ok {
		return *prev, Event{}, invalidTransition(prev, op)
	}

	now := m.now()
	a.StatusChangedAt = now
	a.StatusNote = note
	a.IsRead = true
	a.Actions = append(a.Actions, Action{Action: action, Note: note, At: now})

	if a.Status.IsTerminal() {
		m.close(e, a)
	} else {
		e.current.Store(a)
	}

	getLogger().Info("alert "+string(evType),
		logger.String("alert_id", a.ID),
		logger.String("sensor_id", a.SensorID),
		logger.String("note", note))

	ev := m.emit(evType, a, now)
	return *a, ev, nil
}

// MarkRead sets isRead on one alert. Already read alerts produce no event.
func (m *Manager) MarkRead(id string) (Alert, *Event, error) {
	v, ok := m.byID.Load(id)
	if !ok {
		return Alert{}, nil, notFound(id)
	}
	e := v.(*entry)

	unlock := m.locks.lock(e.key)
	defer unlock()

	prev := e.current.Load()
	if prev.IsRead {
		return *prev, nil, nil
	}
	a := prev.Clone()
	a.IsRead = true
	e.current.Store(a)

	ev := m.emit(EventRead, a, m.now())
	return *a, &ev, nil
}

// MarkAllRead marks every unread alert as read and returns the count
func (m *Manager) MarkAllRead() int {
	var ids []string
	m.byID.Range(func(k, v any) bool {
		if !v.(*entry).current.Load().IsRead {
			ids = append(ids, k.(string))
		}
		return true
	})

	n := 0
	for _, id := range ids {
		if _, ev, err := m.MarkRead(id); err == nil && ev != nil {
			n++
		}
	}
	return n
}

// Get returns a snapshot of one alert
func (m *Manager) Get(id string) (Alert, error) {
	v, ok := m.byID.Load(id)
	if !ok {
		return Alert{}, notFound(id)
	}
	return *v.(*entry).current.Load().Clone(), nil
}

// OpenAlert returns the open alert of key, if any
func (m *Manager) OpenAlert(key Key) (Alert, bool) {
	e, ok := m.loadOpen(key)
	if !ok {
		return Alert{}, false
	}
	return *e.current.Load().Clone(), true
}

// Snapshot returns a page of the alerts held in memory
func (m *Manager) Snapshot(f Filter) Page {
	return Paginate(m.all(), f)
}

// UnreadCount returns the number of unread alerts held in memory
func (m *Manager) UnreadCount() int {
	n := 0
	m.byID.Range(func(_, v any) bool {
		if !v.(*entry).current.Load().IsRead {
			n++
		}
		return true
	})
	return n
}

// OpenCount returns the number of open or acknowledged alerts
func (m *Manager) OpenCount() int {
	n := 0
	m.open.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Restore loads alerts from history, typically at start before readings
// arrive. When two open alerts share a key the most recently opened one
// is kept and the older one is skipped.
func (m *Manager) Restore(alerts []Alert) int {
	sorted := slices.Clone(alerts)
	slices.SortFunc(sorted, NewestFirst)

	restored := 0
	for i := range sorted {
		a := sorted[i].Clone()
		if a.ID == "" || !a.Status.Valid() {
			continue
		}
		if _, exists := m.byID.Load(a.ID); exists {
			continue
		}

		key := a.Key()
		e := &entry{key: key}
		e.current.Store(a)

		if a.Status.IsOpen() {
			if cur, ok := m.open.LoadOrStore(key, e); ok {
				getLogger().Warn("skipping duplicate open alert during restore",
					logger.String("alert_id", a.ID),
					logger.String("kept_id", cur.(*entry).current.Load().ID))
				continue
			}
		}
		m.byID.Store(a.ID, e)
		restored++
	}
	return restored
}

// PurgeClosed forgets terminal alerts whose status changed before cutoff
func (m *Manager) PurgeClosed(before time.Time) int {
	n := 0
	m.byID.Range(func(k, v any) bool {
		a := v.(*entry).current.Load()
		if a.Status.IsTerminal() && a.StatusChangedAt.Before(before) {
			m.byID.Delete(k)
			n++
		}
		return true
	})
	return n
}

func (m *Manager) all() []Alert {
	var out []Alert
	m.byID.Range(func(_, v any) bool {
		out = append(out, *v.(*entry).current.Load())
		return true
	})
	return out
}

func (m *Manager) loadOpen(key Key) (*entry, bool) {
	v, ok := m.open.Load(key)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	if !e.current.Load().Status.IsOpen() {
		return nil, false
	}
	return e, true
}

// close stores the terminal snapshot and frees the key. Caller holds the key lock.
func (m *Manager) close(e *entry, a *Alert) {
	e.current.Store(a)
	m.open.CompareAndDelete(e.key, e)
	if m.window != nil {
		m.window.Forget(e.key)
	}
}

// suppress hands the withheld change to the snapshot sink. Caller holds
// the key lock.
func (m *Manager) suppress(a *Alert) Outcome {
	if m.snapshots != nil {
		m.snapshots(*a.Clone())
	}
	return Outcome{Suppressed: 1, Alerts: []Alert{*a}}
}

// emit builds the event and publishes it. Caller holds the key lock.
func (m *Manager) emit(t EventType, a *Alert, at time.Time) Event {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      t,
		Alert:     *a.Clone(),
		Timestamp: at,
	}
	if m.publisher != nil {
		m.publisher.Publish(ev)
	}
	return ev
}
