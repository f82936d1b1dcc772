package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/gpio-mirror/internal/config"
	"github.com/sweeney/gpio-mirror/internal/gpio"
	"github.com/sweeney/gpio-mirror/internal/metrics"
	"github.com/sweeney/gpio-mirror/internal/mirror"
	"github.com/sweeney/gpio-mirror/internal/mqtt"
	"github.com/sweeney/gpio-mirror/internal/status"
)

// notifier receives service state changes (systemd.Notifier in production).
type notifier interface {
	Ready()
	Stopping()
	Watchdog()
	Status(line string)
}

// loop owns the pins for the lifetime of the daemon. Only the goroutine
// calling run touches them.
type loop struct {
	pins       gpio.Pins
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	metrics    *metrics.Metrics
	notifier   notifier
	out        io.Writer
	now        func() time.Time
	cfg        config.Config
	setPoll    func(time.Duration)

	mirror *mirror.Mirror
}

// run polls once immediately, then once per tick, until a signal arrives or
// ctx is cancelled. Shutdown is always graceful and returns nil.
func (l *loop) run(ctx context.Context, tick <-chan time.Time, sig <-chan os.Signal, reload <-chan config.Config) error {
	l.mirror = mirror.New(l.now())
	l.poll()

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			l.shutdown(signalName(s))
			return nil

		case <-ctx.Done():
			log.Printf("context done, shutting down")
			l.shutdown("CANCELLED")
			return nil

		case cfg := <-reload:
			l.apply(cfg)

		case <-tick:
			l.poll()
		}
	}
}

// poll runs one sample → drive → print cycle. The watchdog is pinged on
// every tick so a switch that stays unreadable is retried, not restarted.
func (l *loop) poll() {
	t := l.now()
	m := l.mirror
	l.notifier.Watchdog()

	level, err := l.pins.ReadSwitch()
	if err != nil {
		log.Printf("gpio read error: %v", err)
		m.RecordReadError()
		l.metrics.ReadError()
		l.tracker.SetError(err, t, m.LED(), m.Counts())
		return
	}

	// The switch level is the LED target; only a completed write counts as a poll.
	if err := l.pins.SetOutput(level); err != nil {
		log.Printf("gpio write error: %v", err)
		m.RecordWriteError()
		l.metrics.WriteError()
		l.tracker.SetError(err, t, m.LED(), m.Counts())
		return
	}
	res := m.Process(mirror.Sample{Switch: level, Time: t})

	fmt.Fprintln(l.out, res.Line())
	l.metrics.Observe(res)
	l.tracker.Update(res, m.Counts())
	l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())

	if res.Changed {
		log.Printf("event: %s (switch=%s)", res.Event(), res.Switch)
		l.notifier.Status(res.Line())
		if err := l.publisher.Publish(res); err != nil {
			log.Printf("publish error: %v", err)
		}
	}

	if hb := m.CheckHeartbeat(t, l.cfg.MQTT.Heartbeat.Duration); hb != nil {
		log.Printf("heartbeat: uptime=%v polls=%d changes=%d read_errors=%d write_errors=%d",
			hb.Uptime, hb.Counts.Polls, hb.Counts.Changes, hb.Counts.ReadErrors, hb.Counts.WriteErrors)
		snap := l.tracker.Snapshot()
		event := mqtt.SystemEvent{
			Timestamp:  hb.Timestamp,
			Event:      "HEARTBEAT",
			RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
		}
		if err := l.publisher.PublishSystem(event); err != nil {
			log.Printf("heartbeat publish error: %v", err)
		}
	}
}

// apply takes the settings that can change while running from a reloaded
// config. Pin and transport settings are only read at startup.
func (l *loop) apply(cfg config.Config) {
	if cfg.GPIO != l.cfg.GPIO || cfg.MQTT.Broker != l.cfg.MQTT.Broker || cfg.HTTP != l.cfg.HTTP {
		log.Printf("config: gpio, mqtt broker and http changes take effect after a restart")
	}

	if cfg.Poll != l.cfg.Poll {
		log.Printf("config: poll %v -> %v", l.cfg.Poll, cfg.Poll)
		l.cfg.Poll = cfg.Poll
		if l.setPoll != nil {
			l.setPoll(cfg.Poll.Duration)
		}
		l.metrics.SetPollInterval(cfg.Poll.Duration)
	}
	if cfg.MQTT.Heartbeat != l.cfg.MQTT.Heartbeat {
		log.Printf("config: heartbeat %v -> %v", l.cfg.MQTT.Heartbeat, cfg.MQTT.Heartbeat)
		l.cfg.MQTT.Heartbeat = cfg.MQTT.Heartbeat
	}
	l.tracker.SetIntervals(l.cfg.Poll.Duration, l.cfg.MQTT.Heartbeat.Duration)
}

func (l *loop) shutdown(reason string) {
	l.notifier.Stopping()
	l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	snap := l.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  l.now(),
		Event:      "SHUTDOWN",
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", reason),
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish shutdown event: %v", err)
	} else {
		log.Printf("published shutdown event")
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
