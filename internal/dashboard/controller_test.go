package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bl8ckfz/forecast-alerts/internal/alerts"
	"github.com/bl8ckfz/forecast-alerts/internal/forecast"
	"github.com/rs/zerolog"
)

type response struct {
	price  *float64
	priceE error
	result forecast.Result
	err    error
	// gate, when set, blocks FetchSnapshot until closed
	gate chan struct{}
}

// fakeSource replays queued responses in call order
type fakeSource struct {
	mu        sync.Mutex
	responses []response
	calls     int
	started   chan struct{}
}

func (f *fakeSource) next() response {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.responses[f.calls]
	f.calls++
	return r
}

func (f *fakeSource) FetchReferencePrice(context.Context, string) (*float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.responses[f.calls]
	return r.price, r.priceE
}

func (f *fakeSource) FetchSnapshot(ctx context.Context, _ string, _ forecast.Horizon, _ *float64) (forecast.Result, error) {
	r := f.next()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if r.gate != nil {
		<-r.gate
	}
	return r.result, r.err
}

type recordingListener struct {
	mu        sync.Mutex
	snapshots []forecast.Snapshot
	alerts    []alerts.TriggeredAlert
}

func (l *recordingListener) OnSnapshot(s forecast.Snapshot) {
	l.mu.Lock()
	l.snapshots = append(l.snapshots, s)
	l.mu.Unlock()
}

func (l *recordingListener) OnAlerts(a []alerts.TriggeredAlert) {
	l.mu.Lock()
	l.alerts = append(l.alerts, a...)
	l.mu.Unlock()
}

func ptr(v float64) *float64 { return &v }

func result(symbol string, confidence float64, action forecast.Action, last float64) forecast.Result {
	return forecast.Result{
		Snapshot: forecast.Snapshot{
			Symbol:         symbol,
			Horizon:        forecast.Horizon1d,
			Confidence:     confidence,
			Recommendation: forecast.Recommendation{Action: action},
		},
		Series: forecast.Series{{Close: ptr(last - 10)}, {Point: ptr(last)}},
	}
}

func newTestController(src forecast.Source) *Controller {
	c := NewController(src, alerts.NewEngine(zerolog.Nop()), alerts.NewMemoryStore(), alerts.NewInbox(), zerolog.Nop())
	n := 0
	c.newID = func() string {
		n++
		return fmt.Sprintf("def-%d", n)
	}
	c.now = func() time.Time { return time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC) }
	return c
}

func messages(list []alerts.TriggeredAlert) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Message)
	}
	return out
}

// checkMessages fails t unless the alert messages equal want, in order
func checkMessages(t *testing.T, got []alerts.TriggeredAlert, want ...string) {
	t.Helper()
	msgs := messages(got)
	if len(msgs) != len(want) {
		t.Fatalf("got %d alerts %q, want %d %q", len(msgs), msgs, len(want), want)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("alert[%d] = %q, want %q", i, msgs[i], want[i])
		}
	}
}

func mustAdd(t *testing.T, c *Controller, req alerts.DefinitionRequest) alerts.Definition {
	t.Helper()
	def, err := c.AddDefinition(req)
	if err != nil {
		t.Fatalf("AddDefinition(%+v) error = %v", req, err)
	}
	return def
}

func mustRefresh(t *testing.T, c *Controller, symbol string) View {
	t.Helper()
	view, err := c.Refresh(context.Background(), symbol, forecast.Horizon1d)
	if err != nil {
		t.Fatalf("Refresh(%s) error = %v", symbol, err)
	}
	return view
}

func confidenceOf(t *testing.T, v View) float64 {
	t.Helper()
	if v.Snapshot == nil {
		t.Fatal("view has no snapshot")
	}
	return v.Snapshot.Confidence
}

func TestRefreshAppliesAndEvaluates(t *testing.T) {
	src := &fakeSource{responses: []response{
		{price: ptr(116000), result: result("BTC/USDT", 0.70, forecast.ActionHold, 116500)},
		{price: ptr(114500), result: result("BTC/USDT", 0.82, forecast.ActionBuy, 114000)},
	}}
	c := newTestController(src)
	listener := &recordingListener{}
	c.Subscribe(listener)

	mustAdd(t, c, alerts.DefinitionRequest{Symbol: "BTC/USDT", Type: "price", Direction: "below", Threshold: ptr(115000)})
	mustAdd(t, c, alerts.DefinitionRequest{Symbol: "BTC/USDT", Type: "confidence", ThresholdPct: ptr(80)})
	mustAdd(t, c, alerts.DefinitionRequest{Symbol: "BTC/USDT", Type: "recommendation"})

	view := mustRefresh(t, c, "BTC/USDT")
	checkMessages(t, view.Alerts)
	if view.ReferencePrice == nil || *view.ReferencePrice != 116000 {
		t.Fatalf("ReferencePrice = %v, want 116000", view.ReferencePrice)
	}

	view = mustRefresh(t, c, "BTC/USDT")
	checkMessages(t, view.Alerts,
		"BTC/USDT price crossed below 115000",
		"BTC/USDT forecast confidence is above 80%",
		"BTC/USDT recommendation changed from HOLD to BUY",
	)

	if len(listener.snapshots) != 2 {
		t.Errorf("listener saw %d snapshots, want 2", len(listener.snapshots))
	}
	if len(listener.alerts) != 3 {
		t.Errorf("listener saw %d alerts, want 3", len(listener.alerts))
	}
	if view.Error != "" {
		t.Errorf("Error = %q, want empty", view.Error)
	}
}

func TestRefreshFallsBackToSeriesPrice(t *testing.T) {
	src := &fakeSource{responses: []response{
		{priceE: errors.New("binance down"), result: result("ETH/USDT", 0.7, forecast.ActionHold, 5600)},
	}}
	c := newTestController(src)

	mustAdd(t, c, alerts.DefinitionRequest{Symbol: "ETH/USDT", Type: "price", Direction: "above", Threshold: ptr(5500)})

	view := mustRefresh(t, c, "ETH/USDT")
	if view.ReferencePrice != nil {
		t.Errorf("ReferencePrice = %v, want nil", *view.ReferencePrice)
	}
	checkMessages(t, view.Alerts, "ETH/USDT price crossed above 5500")
}

func TestRefreshAcquisitionFailureKeepsState(t *testing.T) {
	src := &fakeSource{responses: []response{
		{price: ptr(100), result: result("BTC/USDT", 0.7, forecast.ActionHold, 100)},
		{price: ptr(100), err: errors.New("upstream timeout")},
	}}
	c := newTestController(src)

	mustRefresh(t, c, "BTC/USDT")
	mustAdd(t, c, alerts.DefinitionRequest{Symbol: "BTC/USDT", Type: "recommendation"})

	view, err := c.Refresh(context.Background(), "BTC/USDT", forecast.Horizon1d)
	if !errors.Is(err, ErrAcquisition) {
		t.Fatalf("Refresh() error = %v, want ErrAcquisition", err)
	}
	if view.Error == "" {
		t.Error("failed refresh should report an error message")
	}
	if got := confidenceOf(t, view); got != 0.7 {
		t.Errorf("confidence = %v, want last applied 0.7", got)
	}
	if got := len(c.Definitions("BTC/USDT")); got != 1 {
		t.Errorf("definitions = %d, want 1", got)
	}
}

func TestRefreshDiscardsStaleResponse(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{
		started: make(chan struct{}, 2),
		responses: []response{
			{price: ptr(90000), result: result("BTC/USDT", 0.9, forecast.ActionSell, 90000), gate: gate},
			{price: ptr(120000), result: result("BTC/USDT", 0.6, forecast.ActionBuy, 120000)},
		},
	}
	c := newTestController(src)
	ctx := context.Background()

	mustAdd(t, c, alerts.DefinitionRequest{Symbol: "BTC/USDT", Type: "price", Direction: "below", Threshold: ptr(100000)})

	slowErr := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, "BTC/USDT", forecast.Horizon1d)
		slowErr <- err
	}()
	<-src.started

	view := mustRefresh(t, c, "BTC/USDT")
	<-src.started
	if got := confidenceOf(t, view); got != 0.6 {
		t.Errorf("confidence = %v, want 0.6", got)
	}

	close(gate)
	if err := <-slowErr; !errors.Is(err, ErrStaleResponse) {
		t.Fatalf("slow Refresh() error = %v, want ErrStaleResponse", err)
	}

	view = c.View()
	if got := confidenceOf(t, view); got != 0.6 {
		t.Errorf("confidence after stale response = %v, want 0.6", got)
	}
	if view.ReferencePrice == nil || *view.ReferencePrice != 120000 {
		t.Errorf("ReferencePrice = %v, want 120000", view.ReferencePrice)
	}
	checkMessages(t, view.Alerts)
}

func TestConcurrentRefreshOfDifferentSymbolsBothApply(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{
		started: make(chan struct{}, 2),
		responses: []response{
			{price: ptr(90000), result: result("BTC/USDT", 0.9, forecast.ActionSell, 90000), gate: gate},
			{price: ptr(6000), result: result("ETH/USDT", 0.6, forecast.ActionBuy, 6000)},
		},
	}
	c := newTestController(src)
	ctx := context.Background()

	mustAdd(t, c, alerts.DefinitionRequest{Symbol: "BTC/USDT", Type: "price", Direction: "below", Threshold: ptr(100000)})
	mustAdd(t, c, alerts.DefinitionRequest{Symbol: "ETH/USDT", Type: "price", Direction: "above", Threshold: ptr(5500)})

	slowErr := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, "BTC/USDT", forecast.Horizon1d)
		slowErr <- err
	}()
	<-src.started

	mustRefresh(t, c, "ETH/USDT")
	<-src.started

	close(gate)
	if err := <-slowErr; err != nil {
		t.Fatalf("BTC Refresh() error = %v, want applied", err)
	}

	if got := confidenceOf(t, c.ViewFor("BTC/USDT")); got != 0.9 {
		t.Errorf("BTC confidence = %v, want 0.9", got)
	}
	if got := confidenceOf(t, c.ViewFor("ETH/USDT")); got != 0.6 {
		t.Errorf("ETH confidence = %v, want 0.6", got)
	}
	if got := c.View().Snapshot; got == nil || got.Symbol != "BTC/USDT" {
		t.Errorf("View() should follow the last applied symbol, got %+v", got)
	}
	checkMessages(t, c.Alerts(),
		"ETH/USDT price crossed above 5500",
		"BTC/USDT price crossed below 100000",
	)
}

func TestRefresherTracksRecommendationPerSymbol(t *testing.T) {
	src := &fakeSource{responses: []response{
		{price: ptr(115000), result: result("BTC/USDT", 0.7, forecast.ActionHold, 115000)},
		{price: ptr(5500), result: result("ETH/USDT", 0.7, forecast.ActionHold, 5500)},
		{price: ptr(116000), result: result("BTC/USDT", 0.7, forecast.ActionBuy, 116000)},
		{price: ptr(5600), result: result("ETH/USDT", 0.7, forecast.ActionBuy, 5600)},
	}}
	c := newTestController(src)
	mustAdd(t, c, alerts.DefinitionRequest{Symbol: "BTC/USDT", Type: "recommendation"})
	mustAdd(t, c, alerts.DefinitionRequest{Symbol: "ETH/USDT", Type: "recommendation"})

	r := NewRefresher(c, []string{"BTC/USDT", "ETH/USDT"}, forecast.Horizon1d, time.Minute, time.Second, zerolog.Nop())
	ctx := context.Background()

	r.tick(ctx)
	checkMessages(t, c.Alerts())

	r.tick(ctx)
	checkMessages(t, c.Alerts(),
		"BTC/USDT recommendation changed from HOLD to BUY",
		"ETH/USDT recommendation changed from HOLD to BUY",
	)
}

func TestAddDefinitionEvaluatesEverySymbol(t *testing.T) {
	src := &fakeSource{responses: []response{
		{price: ptr(115000), result: result("BTC/USDT", 0.7, forecast.ActionHold, 115000)},
		{price: ptr(5500), result: result("ETH/USDT", 0.7, forecast.ActionHold, 5500)},
	}}
	c := newTestController(src)
	mustRefresh(t, c, "BTC/USDT")
	mustRefresh(t, c, "ETH/USDT")

	// BTC is not the most recently refreshed symbol
	mustAdd(t, c, alerts.DefinitionRequest{Symbol: "BTC/USDT", Type: "price", Direction: "above", Threshold: ptr(100000)})
	checkMessages(t, c.Alerts(), "BTC/USDT price crossed above 100000")
}

func TestDismissRearms(t *testing.T) {
	src := &fakeSource{responses: []response{
		{price: ptr(114500), result: result("BTC/USDT", 0.7, forecast.ActionHold, 114500)},
	}}
	c := newTestController(src)

	mustRefresh(t, c, "BTC/USDT")

	// fires against the current snapshot as soon as it is added
	mustAdd(t, c, alerts.DefinitionRequest{Symbol: "BTC/USDT", Type: "price", Direction: "below", Threshold: ptr(115000)})
	live := c.Alerts()
	if len(live) != 1 {
		t.Fatalf("live alerts = %d, want 1", len(live))
	}

	dismissed, err := c.Dismiss(live[0].ID)
	if err != nil {
		t.Fatalf("Dismiss() error = %v", err)
	}
	if dismissed.ID != live[0].ID {
		t.Errorf("dismissed %q, want %q", dismissed.ID, live[0].ID)
	}

	again := c.Alerts()
	checkMessages(t, again, "BTC/USDT price crossed below 115000")
	if again[0].ID == live[0].ID {
		t.Errorf("re-armed alert reused id %q", again[0].ID)
	}

	if _, err := c.Dismiss("missing"); !errors.Is(err, alerts.ErrAlertNotFound) {
		t.Errorf("Dismiss(missing) error = %v, want ErrAlertNotFound", err)
	}
}

func TestAddRecommendationDefinitionDoesNotFireOnAdd(t *testing.T) {
	src := &fakeSource{responses: []response{
		{price: ptr(100), result: result("BTC/USDT", 0.7, forecast.ActionBuy, 100)},
	}}
	c := newTestController(src)

	mustRefresh(t, c, "BTC/USDT")
	mustAdd(t, c, alerts.DefinitionRequest{Symbol: "BTC/USDT", Type: "recommendation"})
	checkMessages(t, c.Alerts())
}

func TestDefinitionsAdmission(t *testing.T) {
	c := newTestController(&fakeSource{})

	if _, err := c.AddDefinition(alerts.DefinitionRequest{Symbol: "BTC/USDT", Type: "confidence", ThresholdPct: ptr(120)}); !errors.Is(err, alerts.ErrInvalidDefinition) {
		t.Errorf("AddDefinition(120%%) error = %v, want ErrInvalidDefinition", err)
	}

	btc := mustAdd(t, c, alerts.DefinitionRequest{Symbol: "BTC/USDT", Type: "price", Threshold: ptr(1)})
	mustAdd(t, c, alerts.DefinitionRequest{Symbol: "ETH/USDT", Type: "recommendation"})

	if got := len(c.Definitions("")); got != 2 {
		t.Errorf("all definitions = %d, want 2", got)
	}
	if got := len(c.Definitions("BTC/USDT")); got != 1 {
		t.Errorf("BTC definitions = %d, want 1", got)
	}

	if err := c.RemoveDefinition(btc.ID); err != nil {
		t.Fatalf("RemoveDefinition() error = %v", err)
	}
	if err := c.RemoveDefinition(btc.ID); !errors.Is(err, alerts.ErrDefinitionNotFound) {
		t.Errorf("second RemoveDefinition() error = %v, want ErrDefinitionNotFound", err)
	}
	if got := len(c.Definitions("BTC/USDT")); got != 0 {
		t.Errorf("BTC definitions after remove = %d, want 0", got)
	}
}

func TestViewBeforeFirstRefresh(t *testing.T) {
	c := newTestController(&fakeSource{})
	for name, view := range map[string]View{"View": c.View(), "ViewFor": c.ViewFor("BTC/USDT")} {
		if view.Snapshot != nil || view.ReferencePrice != nil || len(view.Alerts) != 0 {
			t.Errorf("%s() before refresh = %+v, want empty", name, view)
		}
	}
}

func TestRefresherTicksImmediately(t *testing.T) {
	source := forecast.NewSyntheticSource(nil, forecast.NewGenerator(3), zerolog.Nop())
	c := newTestController(source)
	mustAdd(t, c, alerts.DefinitionRequest{Symbol: "BTC/USDT", Type: "price", Threshold: ptr(1)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r := NewRefresher(c, []string{"BTC/USDT", "ETH/USDT"}, forecast.Horizon1h, time.Hour, time.Second, zerolog.Nop())
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if v := c.View(); v.Snapshot != nil && v.Snapshot.Symbol == "ETH/USDT" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("refresher did not refresh ETH/USDT on start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done

	checkMessages(t, c.Alerts(), "BTC/USDT price crossed above 1")
}

func TestRefresherDisabled(t *testing.T) {
	c := newTestController(&fakeSource{})
	done := make(chan struct{})
	go func() {
		NewRefresher(c, nil, forecast.Horizon1d, time.Minute, 0, zerolog.Nop()).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled refresher did not return")
	}
}
