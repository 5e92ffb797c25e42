package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bl8ckfz/forecast-alerts/internal/alerts"
	"github.com/bl8ckfz/forecast-alerts/internal/forecast"
	"github.com/bl8ckfz/forecast-alerts/pkg/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrAcquisition wraps any failure to obtain a snapshot
	ErrAcquisition = errors.New("forecast acquisition failed")
	// ErrStaleResponse is returned when a newer refresh was issued before this one completed
	ErrStaleResponse = errors.New("stale forecast response discarded")
)

// Listener is notified after state changes. Calls are made outside the
// controller lock, in the order the changes were applied.
type Listener interface {
	OnSnapshot(snapshot forecast.Snapshot)
	OnAlerts(triggered []alerts.TriggeredAlert)
}

// View is a read-only copy of the controller state
type View struct {
	Snapshot       *forecast.Snapshot      `json:"snapshot"`
	Series         forecast.Series         `json:"series"`
	ReferencePrice *float64                `json:"reference_price"`
	Error          string                  `json:"error,omitempty"`
	Alerts         []alerts.TriggeredAlert `json:"alerts"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// Controller owns the definitions, live alerts and the last applied snapshot
// of every symbol, and serialises every evaluation pass.
type Controller struct {
	source forecast.Source
	engine *alerts.Engine
	store  alerts.Store
	inbox  *alerts.Inbox
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string

	mu        sync.Mutex
	symbols   map[string]*symbolState
	order     []string
	focus     string
	listeners []Listener
}

// symbolState is the refresh stream of one symbol. Sequence numbers only
// supersede refreshes of the same symbol.
type symbolState struct {
	seq       uint64
	current   *forecast.Snapshot
	series    forecast.Series
	ref       *float64
	lastErr   string
	updatedAt time.Time
}

// NewController wires a controller around source
func NewController(source forecast.Source, engine *alerts.Engine, store alerts.Store, inbox *alerts.Inbox, logger zerolog.Logger) *Controller {
	return &Controller{
		source: source,
		engine: engine,
		store:  store,
		inbox:  inbox,
		logger: logger.With().Str("component", "dashboard").Logger(),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },

		symbols: make(map[string]*symbolState),
	}
}

// Subscribe registers l for snapshot and alert notifications
func (c *Controller) Subscribe(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Refresh acquires a new snapshot for symbol/horizon and, if no newer refresh
// has been issued meanwhile, evaluates alerts against it and applies it.
func (c *Controller) Refresh(ctx context.Context, symbol string, horizon forecast.Horizon) (View, error) {
	c.mu.Lock()
	st := c.stateLocked(symbol)
	st.seq++
	n := st.seq
	c.mu.Unlock()

	start := time.Now()
	defer func() { observability.RefreshDuration.Observe(time.Since(start).Seconds()) }()

	ref, err := c.source.FetchReferencePrice(ctx, symbol)
	if err != nil {
		// the series price stands in for a missing live price
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Reference price unavailable")
		ref = nil
	}
	if ref == nil {
		observability.ReferencePriceMisses.WithLabelValues(symbol).Inc()
	}

	res, err := c.source.FetchSnapshot(ctx, symbol, horizon, ref)
	if err != nil {
		return c.fail(st, n, symbol, err)
	}

	c.mu.Lock()
	if n != st.seq {
		c.mu.Unlock()
		observability.RefreshTotal.WithLabelValues(symbol, "stale").Inc()
		c.logger.Debug().Str("symbol", symbol).Uint64("seq", n).Msg("Discarding stale snapshot")
		return View{}, ErrStaleResponse
	}

	snapshot := res.Snapshot
	fired := c.engine.Evaluate(alerts.Input{
		Current:        &snapshot,
		ReferencePrice: ref,
		Series:         res.Series,
		Previous:       st.current,
		Definitions:    c.store.ListBySymbol(symbol),
		Live:           c.inbox.List(),
	})
	c.inbox.Present(fired...)
	c.syncLiveGaugeLocked()

	st.current = &snapshot
	st.series = res.Series
	st.ref = ref
	st.lastErr = ""
	st.updatedAt = c.now()
	c.focus = symbol

	view := c.viewLocked(symbol)
	listeners := c.listenersLocked()
	c.mu.Unlock()

	observability.RefreshTotal.WithLabelValues(symbol, "applied").Inc()
	recordFired(fired)
	c.logger.Info().
		Str("symbol", symbol).
		Str("horizon", string(horizon)).
		Float64("confidence", snapshot.Confidence).
		Str("action", string(snapshot.Recommendation.Action)).
		Int("fired", len(fired)).
		Msg("Snapshot applied")

	for _, l := range listeners {
		l.OnSnapshot(snapshot)
		if len(fired) > 0 {
			l.OnAlerts(fired)
		}
	}

	return view, nil
}

// fail records an acquisition error for the latest request of symbol; the
// last applied snapshot and all definitions are left untouched.
func (c *Controller) fail(st *symbolState, n uint64, symbol string, cause error) (View, error) {
	c.mu.Lock()
	if n != st.seq {
		c.mu.Unlock()
		observability.RefreshTotal.WithLabelValues(symbol, "stale").Inc()
		return View{}, ErrStaleResponse
	}
	st.lastErr = fmt.Sprintf("Could not load forecast for %s", symbol)
	c.focus = symbol
	view := c.viewLocked(symbol)
	c.mu.Unlock()

	observability.RefreshTotal.WithLabelValues(symbol, "failed").Inc()
	c.logger.Error().Err(cause).Str("symbol", symbol).Msg("Forecast acquisition failed")
	return view, fmt.Errorf("%w: %s: %v", ErrAcquisition, symbol, cause)
}

// AddDefinition admits req, stores it and evaluates it against the current
// snapshot so an already-true condition fires at once.
func (c *Controller) AddDefinition(req alerts.DefinitionRequest) (alerts.Definition, error) {
	def, err := alerts.Admit(req, c.newID(), c.now())
	if err != nil {
		return alerts.Definition{}, err
	}

	c.mu.Lock()
	if err := c.store.Add(def); err != nil {
		c.mu.Unlock()
		return alerts.Definition{}, fmt.Errorf("store definition: %w", err)
	}
	fired, listeners := c.reevaluateLocked()
	c.mu.Unlock()

	observability.AlertDefinitions.Inc()
	c.logger.Info().
		Str("id", def.ID).
		Str("symbol", def.Symbol).
		Str("condition", def.Condition.Describe()).
		Msg("Alert definition added")

	c.notifyAlerts(listeners, fired)
	return def, nil
}

// RemoveDefinition deletes a definition. Alerts it already raised stay live
// until dismissed.
func (c *Controller) RemoveDefinition(id string) error {
	c.mu.Lock()
	err := c.store.Remove(id)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	observability.AlertDefinitions.Dec()
	c.logger.Info().Str("id", id).Msg("Alert definition removed")
	return nil
}

// Definitions lists the definitions for symbol, or all when symbol is empty
func (c *Controller) Definitions(symbol string) []alerts.Definition {
	if symbol == "" {
		return c.store.List()
	}
	return c.store.ListBySymbol(symbol)
}

// Dismiss removes a live alert, re-arming its definition. A condition that
// still holds fires again immediately.
func (c *Controller) Dismiss(id string) (alerts.TriggeredAlert, error) {
	c.mu.Lock()
	dismissed, err := c.inbox.Dismiss(id)
	if err != nil {
		c.mu.Unlock()
		return alerts.TriggeredAlert{}, err
	}
	fired, listeners := c.reevaluateLocked()
	c.mu.Unlock()

	c.logger.Info().Str("id", id).Str("definition", dismissed.DefinitionID).Msg("Alert dismissed")

	c.notifyAlerts(listeners, fired)
	return dismissed, nil
}

// Alerts returns the live triggered alerts
func (c *Controller) Alerts() []alerts.TriggeredAlert {
	return c.inbox.List()
}

// View returns the state of the most recently refreshed symbol without
// refreshing
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked(c.focus)
}

// ViewFor returns the last applied state of symbol
func (c *Controller) ViewFor(symbol string) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked(symbol)
}

func (c *Controller) stateLocked(symbol string) *symbolState {
	st, ok := c.symbols[symbol]
	if !ok {
		st = &symbolState{}
		c.symbols[symbol] = st
		c.order = append(c.order, symbol)
	}
	return st
}

// reevaluateLocked runs a pass against every symbol's current snapshot with
// previous set to current, so recommendation changes never refire. Must hold
// c.mu.
func (c *Controller) reevaluateLocked() ([]alerts.TriggeredAlert, []Listener) {
	defer c.syncLiveGaugeLocked()

	var fired []alerts.TriggeredAlert
	for _, symbol := range c.order {
		st := c.symbols[symbol]
		if st.current == nil {
			continue
		}
		batch := c.engine.Evaluate(alerts.Input{
			Current:        st.current,
			ReferencePrice: st.ref,
			Series:         st.series,
			Previous:       st.current,
			Definitions:    c.store.ListBySymbol(symbol),
			Live:           c.inbox.List(),
		})
		c.inbox.Present(batch...)
		fired = append(fired, batch...)
	}
	if len(fired) == 0 {
		return nil, nil
	}

	return fired, c.listenersLocked()
}

func (c *Controller) notifyAlerts(listeners []Listener, fired []alerts.TriggeredAlert) {
	if len(fired) == 0 {
		return
	}
	recordFired(fired)
	for _, l := range listeners {
		l.OnAlerts(fired)
	}
}

func (c *Controller) viewLocked(symbol string) View {
	v := View{Alerts: c.inbox.List()}
	st, ok := c.symbols[symbol]
	if !ok {
		return v
	}

	v.Series = st.series
	v.Error = st.lastErr
	v.UpdatedAt = st.updatedAt
	if st.current != nil {
		snap := *st.current
		v.Snapshot = &snap
	}
	if st.ref != nil {
		ref := *st.ref
		v.ReferencePrice = &ref
	}
	return v
}

func (c *Controller) syncLiveGaugeLocked() {
	observability.AlertsLive.Set(float64(len(c.inbox.List())))
}

func (c *Controller) listenersLocked() []Listener {
	out := make([]Listener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

func recordFired(fired []alerts.TriggeredAlert) {
	for _, a := range fired {
		observability.AlertsTriggered.WithLabelValues(a.Symbol, string(a.Kind)).Inc()
	}
}
