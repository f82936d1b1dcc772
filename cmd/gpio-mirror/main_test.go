package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/gpio-mirror/internal/config"
	"github.com/sweeney/gpio-mirror/internal/gpio"
	"github.com/sweeney/gpio-mirror/internal/metrics"
	"github.com/sweeney/gpio-mirror/internal/mirror"
	"github.com/sweeney/gpio-mirror/internal/mqtt"
	"github.com/sweeney/gpio-mirror/internal/status"
)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from the loop goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// repeat returns n copies of level.
func repeat(level bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = level
	}
	return out
}

// faultPins wraps FakePins and fails reads or writes for a range of calls.
type faultPins struct {
	inner      *gpio.FakePins
	reads      int
	writes     int
	readFault  [2]int // [start, end) of failing ReadSwitch calls
	writeFault [2]int // [start, end) of failing SetOutput calls
}

func (p *faultPins) ReadSwitch() (bool, error) {
	i := p.reads
	p.reads++
	if i >= p.readFault[0] && i < p.readFault[1] {
		return false, &gpio.PinError{Op: "read", Pin: 529, Kind: gpio.ErrIO, Err: errors.New("gpio fault")}
	}
	return p.inner.ReadSwitch()
}

func (p *faultPins) SetOutput(level bool) error {
	i := p.writes
	p.writes++
	if i >= p.writeFault[0] && i < p.writeFault[1] {
		return &gpio.PinError{Op: "write", Pin: 539, Kind: gpio.ErrIO, Err: errors.New("gpio fault")}
	}
	return p.inner.SetOutput(level)
}

func (p *faultPins) Close() error { return p.inner.Close() }

type fakeNotifier struct {
	ready     int
	stopping  int
	watchdogs int
	statuses  []string
}

func (n *fakeNotifier) Ready()             { n.ready++ }
func (n *fakeNotifier) Stopping()          { n.stopping++ }
func (n *fakeNotifier) Watchdog()          { n.watchdogs++ }
func (n *fakeNotifier) Status(line string) { n.statuses = append(n.statuses, line) }

type testLoop struct {
	*loop
	pub    *mqtt.FakePublisher
	notify *fakeNotifier
	out    *bytes.Buffer
	polls  []time.Duration
}

func newTestLoop(pins gpio.Pins, step, heartbeat time.Duration) *testLoop {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := config.Default()
	cfg.MQTT.Heartbeat = config.Duration{Duration: heartbeat}

	tl := &testLoop{
		pub:    mqtt.NewFakePublisher(),
		notify: &fakeNotifier{},
		out:    &bytes.Buffer{},
	}
	tl.loop = &loop{
		pins:       pins,
		publisher:  tl.pub,
		mqttStatus: tl.pub,
		tracker: status.NewTracker(start, status.Config{
			PollMs:      cfg.Poll.Milliseconds(),
			HeartbeatMs: heartbeat.Milliseconds(),
		}),
		metrics:  metrics.New(),
		notifier: tl.notify,
		out:      tl.out,
		now:      fakeClock(start, step),
		cfg:      cfg,
		setPoll:  func(d time.Duration) { tl.polls = append(tl.polls, d) },
	}
	return tl
}

// runTicks drives the loop through nTicks ticks after its immediate first
// poll, then delivers sig and waits for the loop to return.
func (tl *testLoop) runTicks(t *testing.T, nTicks int, sig os.Signal) error {
	t.Helper()
	return tl.runWith(t, nTicks, nil, sig)
}

func (tl *testLoop) runWith(t *testing.T, nTicks int, reloads []config.Config, sig os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	reload := make(chan config.Config)

	errCh := make(chan error, 1)
	go func() {
		errCh <- tl.run(context.Background(), tick, sigCh, reload)
	}()

	for _, cfg := range reloads {
		reload <- cfg
	}
	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sigCh <- sig

	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not return after signal")
		return nil
	}
}

func (tl *testLoop) lines() []string {
	s := strings.TrimSpace(tl.out.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestRunLoopSwitchOffAtStart(t *testing.T) {
	pins := gpio.NewFakePins([]bool{false})
	tl := newTestLoop(pins, 500*time.Millisecond, 0)

	if err := tl.runTicks(t, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pins.Outputs) != 1 || pins.Outputs[0] {
		t.Errorf("outputs: got %v, want [false]", pins.Outputs)
	}
	if got := tl.lines(); len(got) != 1 || got[0] != "Switch OFF -> LED OFF" {
		t.Errorf("lines: got %q", got)
	}
}

func TestRunLoopSwitchTurnsOn(t *testing.T) {
	pins := gpio.NewFakePins([]bool{false, true})
	tl := newTestLoop(pins, 500*time.Millisecond, 0)

	if err := tl.runTicks(t, 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	want := []bool{false, true}
	if fmt.Sprint(pins.Outputs) != fmt.Sprint(want) {
		t.Errorf("outputs: got %v, want %v", pins.Outputs, want)
	}
	lines := tl.lines()
	if len(lines) != 2 || lines[1] != "Switch ON -> LED ON" {
		t.Errorf("lines: got %q", lines)
	}

	if len(tl.pub.Results) != 2 {
		t.Fatalf("expected 2 published changes, got %d", len(tl.pub.Results))
	}
	if tl.pub.Results[1].Event() != mirror.EventLEDOn {
		t.Errorf("expected LED_ON, got %s", tl.pub.Results[1].Event())
	}
	if len(tl.notify.statuses) != 2 || tl.notify.statuses[1] != "Switch ON -> LED ON" {
		t.Errorf("systemd statuses: got %q", tl.notify.statuses)
	}
}

func TestRunLoopHeldOn(t *testing.T) {
	pins := gpio.NewFakePins(repeat(true, 3))
	tl := newTestLoop(pins, 500*time.Millisecond, 0)

	if err := tl.runTicks(t, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if fmt.Sprint(pins.Outputs) != fmt.Sprint(repeat(true, 3)) {
		t.Errorf("outputs: got %v, want 3x true", pins.Outputs)
	}
	lines := tl.lines()
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), lines)
	}
	for i, l := range lines {
		if l != "Switch ON -> LED ON" {
			t.Errorf("line %d: got %q", i, l)
		}
	}
	// Only the first poll changes the LED.
	if len(tl.pub.Results) != 1 {
		t.Errorf("expected 1 published change, got %d", len(tl.pub.Results))
	}
	if tl.notify.watchdogs != 3 {
		t.Errorf("expected 3 watchdog pings, got %d", tl.notify.watchdogs)
	}
}

func TestRunLoopMirrorsEverySample(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	samples := make([]bool, 200)
	for i := range samples {
		samples[i] = rng.Intn(2) == 1
	}
	pins := gpio.NewFakePins(samples)
	tl := newTestLoop(pins, 500*time.Millisecond, 0)

	if err := tl.runTicks(t, len(samples)-1, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pins.Outputs) != len(samples) {
		t.Fatalf("expected %d writes, got %d", len(samples), len(pins.Outputs))
	}
	lines := tl.lines()
	changes := 0
	for i, s := range samples {
		if pins.Outputs[i] != s {
			t.Errorf("poll %d: wrote %v for switch %v", i, pins.Outputs[i], s)
		}
		want := fmt.Sprintf("Switch %s -> LED %s", mirror.StateOf(s), mirror.StateOf(s))
		if lines[i] != want {
			t.Errorf("poll %d: line %q, want %q", i, lines[i], want)
		}
		if i == 0 || samples[i] != samples[i-1] {
			changes++
		}
	}
	if len(tl.pub.Results) != changes {
		t.Errorf("expected %d published changes, got %d", changes, len(tl.pub.Results))
	}
}

func TestRunLoopReadError(t *testing.T) {
	// Reads 1 and 2 fail. The loop logs, counts and keeps polling.
	pins := &faultPins{inner: gpio.NewFakePins([]bool{true}), readFault: [2]int{1, 3}}
	tl := newTestLoop(pins, 500*time.Millisecond, 0)

	if err := tl.runTicks(t, 3, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(tl.lines()) != 2 {
		t.Errorf("expected 2 status lines (no line for failed reads), got %q", tl.lines())
	}
	c := tl.mirror.Counts()
	if c.ReadErrors != 2 || c.Polls != 2 {
		t.Errorf("counts: got %+v, want 2 read errors and 2 polls", c)
	}
	// LED was already ON and stays ON through the failed reads.
	if len(tl.pub.Results) != 1 {
		t.Errorf("expected 1 published change, got %d", len(tl.pub.Results))
	}

	snap := tl.tracker.Snapshot()
	if !strings.Contains(snap.LastError, "gpio fault") {
		t.Errorf("LastError: got %q", snap.LastError)
	}

	if names := tl.pub.SystemEventNames(); len(names) != 1 || names[0] != "SHUTDOWN" {
		t.Errorf("system events: got %v, want [SHUTDOWN]", names)
	}
}

func TestRunLoopWriteError(t *testing.T) {
	// The second write fails. The LED state is forgotten, so the next
	// successful poll reports a change again.
	pins := &faultPins{inner: gpio.NewFakePins([]bool{true}), writeFault: [2]int{1, 2}}
	tl := newTestLoop(pins, 500*time.Millisecond, 0)

	if err := tl.runTicks(t, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(tl.lines()) != 2 {
		t.Errorf("expected 2 status lines, got %q", tl.lines())
	}
	if c := tl.mirror.Counts(); c.WriteErrors != 1 {
		t.Errorf("WriteErrors: got %d, want 1", c.WriteErrors)
	}
	if len(tl.pub.Results) != 2 {
		t.Errorf("expected 2 published changes (before and after the failed write), got %d", len(tl.pub.Results))
	}
	if got := tl.tracker.Snapshot().LED; got != mirror.StateOn {
		t.Errorf("tracker LED: got %s, want ON", got)
	}
}

func TestRunLoopFailedWriteIsNotCounted(t *testing.T) {
	// LED is ON, the switch goes OFF and that write fails. Only the
	// successful polls count, so counters agree with the published events.
	pins := &faultPins{inner: gpio.NewFakePins([]bool{true, false, false}), writeFault: [2]int{1, 2}}
	tl := newTestLoop(pins, 500*time.Millisecond, 0)

	if err := tl.runTicks(t, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	c := tl.mirror.Counts()
	if c.Polls != 2 || c.On != 1 || c.Off != 1 || c.Changes != 2 || c.WriteErrors != 1 {
		t.Errorf("counts: got %+v, want 2 polls, 1 on, 1 off, 2 changes, 1 write error", c)
	}
	if len(tl.pub.Results) != c.Changes {
		t.Errorf("published %d changes, counted %d", len(tl.pub.Results), c.Changes)
	}
	if got := tl.tracker.Snapshot().Counts.Changes; got != 2 {
		t.Errorf("tracker changes: got %d, want 2", got)
	}
	if got := counterValue(t, tl.metrics, "gpio_mirror_polls_total"); got != 2 {
		t.Errorf("polls_total: got %v, want 2", got)
	}
	if got := counterValue(t, tl.metrics, "gpio_mirror_led_changes_total"); got != 2 {
		t.Errorf("led_changes_total: got %v, want 2", got)
	}
}

func TestRunLoopWatchdogDuringReadErrors(t *testing.T) {
	pins := gpio.NewFakePins([]bool{true})
	pins.ReadError = &gpio.PinError{Op: "read", Pin: 529, Kind: gpio.ErrIO, Err: errors.New("gpio fault")}
	tl := newTestLoop(pins, 500*time.Millisecond, 0)

	if err := tl.runTicks(t, 3, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if tl.notify.watchdogs != 4 {
		t.Errorf("expected a watchdog ping on each of 4 polls, got %d", tl.notify.watchdogs)
	}
	if c := tl.mirror.Counts(); c.ReadErrors != 4 || c.Polls != 0 {
		t.Errorf("counts: got %+v, want 4 read errors and no polls", c)
	}
}

// counterValue returns the value of a single-series counter from m's registry.
func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) == 1 {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("counter %s not found", name)
	return 0
}

func TestRunLoopPublishError(t *testing.T) {
	pins := gpio.NewFakePins([]bool{false, true, true})
	tl := newTestLoop(pins, 500*time.Millisecond, 0)
	tl.pub.PublishError = errors.New("broker unavailable")

	if err := tl.runTicks(t, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pins.Outputs) != 3 {
		t.Errorf("expected 3 writes despite publish errors, got %d", len(pins.Outputs))
	}
	if names := tl.pub.SystemEventNames(); len(names) != 1 || names[0] != "SHUTDOWN" {
		t.Errorf("system events: got %v, want [SHUTDOWN]", names)
	}
}

func TestRunLoopShutdownSignals(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			pins := gpio.NewFakePins([]bool{true})
			tl := newTestLoop(pins, 500*time.Millisecond, 0)

			if err := tl.runTicks(t, 1, tt.sig); err != nil {
				t.Fatalf("runLoop returned error: %v", err)
			}

			if len(tl.pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(tl.pub.SystemEvents))
			}
			ev := tl.pub.SystemEvents[0]
			if ev.Event != "SHUTDOWN" || ev.Reason != tt.want || !ev.Retained {
				t.Errorf("got %+v, want retained SHUTDOWN reason %s", ev, tt.want)
			}

			var payload status.StatusJSON
			if err := json.Unmarshal(tl.pub.SystemPayloads[0], &payload); err != nil {
				t.Fatalf("unmarshal shutdown payload: %v", err)
			}
			if payload.Status.Event != "SHUTDOWN" || payload.Status.Reason != tt.want {
				t.Errorf("payload: got event %q reason %q", payload.Status.Event, payload.Status.Reason)
			}
			if payload.Status.LED != "ON" {
				t.Errorf("payload LED: got %q, want ON", payload.Status.LED)
			}
			if tl.notify.stopping != 1 {
				t.Errorf("expected 1 STOPPING notification, got %d", tl.notify.stopping)
			}
		})
	}
}

func TestRunLoopContextCancel(t *testing.T) {
	pins := gpio.NewFakePins([]bool{false})
	tl := newTestLoop(pins, 500*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tl.run(ctx, make(chan time.Time), make(chan os.Signal), make(chan config.Config))
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pins.Outputs) != 1 {
		t.Errorf("expected the immediate poll before shutdown, got %d writes", len(pins.Outputs))
	}
	if len(tl.pub.SystemEvents) != 1 || tl.pub.SystemEvents[0].Reason != "CANCELLED" {
		t.Errorf("system events: got %+v", tl.pub.SystemEvents)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	// Clock calls: t0 (start), then one per poll at 5-minute steps.
	// Polls at 5m, 10m, 15m, 20m; the 15-minute heartbeat fires at 15m only.
	pins := gpio.NewFakePins(repeat(false, 4))
	tl := newTestLoop(pins, 5*time.Minute, 15*time.Minute)

	if err := tl.runTicks(t, 3, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	names := tl.pub.SystemEventNames()
	if len(names) != 2 || names[0] != "HEARTBEAT" || names[1] != "SHUTDOWN" {
		t.Fatalf("system events: got %v, want [HEARTBEAT SHUTDOWN]", names)
	}

	var payload status.StatusJSON
	if err := json.Unmarshal(tl.pub.SystemPayloads[0], &payload); err != nil {
		t.Fatalf("unmarshal heartbeat payload: %v", err)
	}
	if payload.Status.Counts.Polls != 3 {
		t.Errorf("heartbeat polls: got %d, want 3", payload.Status.Counts.Polls)
	}
	if tl.pub.SystemEvents[0].Retained {
		t.Error("HEARTBEAT should not be retained")
	}
}

func TestRunLoopReload(t *testing.T) {
	pins := gpio.NewFakePins(repeat(false, 4))
	tl := newTestLoop(pins, 5*time.Minute, 0)

	cfg := config.Default()
	cfg.Poll = config.Duration{Duration: 200 * time.Millisecond}
	cfg.MQTT.Heartbeat = config.Duration{Duration: 10 * time.Minute}
	cfg.GPIO.LEDPin = 22

	if err := tl.runWith(t, 3, []config.Config{cfg}, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(tl.polls) != 1 || tl.polls[0] != 200*time.Millisecond {
		t.Errorf("poll resets: got %v, want [200ms]", tl.polls)
	}
	// Pin changes need a restart.
	if tl.cfg.GPIO.LEDPin != config.Default().GPIO.LEDPin {
		t.Errorf("LED pin changed at runtime to %d", tl.cfg.GPIO.LEDPin)
	}

	snap := tl.tracker.Snapshot()
	if snap.Config.PollMs != 200 || snap.Config.HeartbeatMs != 600000 {
		t.Errorf("tracker intervals: got poll=%d heartbeat=%d", snap.Config.PollMs, snap.Config.HeartbeatMs)
	}

	// The reloaded heartbeat applies: polls at 10m and 15m, first fires at 10m.
	names := tl.pub.SystemEventNames()
	if len(names) == 0 || names[0] != "HEARTBEAT" {
		t.Errorf("system events: got %v, want a HEARTBEAT first", names)
	}
}

func TestSignalName(t *testing.T) {
	if got := signalName(syscall.SIGINT); got != "SIGINT" {
		t.Errorf("SIGINT: got %q", got)
	}
	if got := signalName(syscall.SIGTERM); got != "SIGTERM" {
		t.Errorf("SIGTERM: got %q", got)
	}
	if got := signalName(syscall.SIGUSR1); got != "UNKNOWN" {
		t.Errorf("SIGUSR1: got %q", got)
	}
}

// --- run tests against a fake sysfs tree ---

func fakeSysfsConfig(t *testing.T, switchValue string) (config.Config, string) {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{"export", "unexport"} {
		if err := os.WriteFile(filepath.Join(root, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	lines := []struct {
		n     int
		value string
	}{
		{529, switchValue},
		{539, "0\n"},
	}
	for _, line := range lines {
		dir := filepath.Join(root, fmt.Sprintf("gpio%d", line.n))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "direction"), []byte("in\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "value"), []byte(line.value), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.GPIO.Backend = string(gpio.BackendSysfs)
	cfg.GPIO.SysfsRoot = root
	cfg.HTTP.Addr = ""
	return cfg, root
}

func TestRunPrintState(t *testing.T) {
	cfg, _ := fakeSysfsConfig(t, "1\n")
	var out bytes.Buffer

	if err := run(context.Background(), cfg, "", true, &out); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if got := out.String(); got != "Switch: ON\n" {
		t.Errorf("got %q, want %q", got, "Switch: ON\n")
	}
}

func TestRunUntilCancelled(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	cfg, root := fakeSysfsConfig(t, "1\n")
	var out bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := run(ctx, cfg, "", false, &out); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"<================ Control LED App ================>",
		"Switch ON -> LED ON",
		"[INFO] Exiting LED Control App...",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	// Close drives the LED low.
	value, err := os.ReadFile(filepath.Join(root, "gpio539", "value"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(value), "0") {
		t.Errorf("LED value after exit: got %q, want 0", value)
	}
}

func TestRunGPIOFailure(t *testing.T) {
	cfg := config.Default()
	cfg.GPIO.Backend = string(gpio.BackendSysfs)
	cfg.GPIO.SysfsRoot = filepath.Join(t.TempDir(), "missing")

	err := run(context.Background(), cfg, "", false, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error for missing sysfs tree")
	}
	if !strings.Contains(err.Error(), "init gpio") || !errors.Is(err, gpio.ErrPinUnavailable) {
		t.Errorf("got %v, want init gpio error matching ErrPinUnavailable", err)
	}
}

func TestRootCmdRejectsBadConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--poll", "0s", "--http", ""})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "poll must be positive") {
		t.Errorf("got %v, want poll validation error", err)
	}
}
