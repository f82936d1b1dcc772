// Command gpio-mirror polls a switch input and mirrors its level onto an LED output.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/gpio-mirror/internal/config"
	"github.com/sweeney/gpio-mirror/internal/gpio"
	"github.com/sweeney/gpio-mirror/internal/metrics"
	"github.com/sweeney/gpio-mirror/internal/mirror"
	"github.com/sweeney/gpio-mirror/internal/mqtt"
	"github.com/sweeney/gpio-mirror/internal/status"
	"github.com/sweeney/gpio-mirror/internal/systemd"
	"github.com/sweeney/gpio-mirror/internal/web"
)

// reloadDebounce coalesces the burst of events an editor save produces.
const reloadDebounce = 250 * time.Millisecond

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	var printState bool
	cmd := &cobra.Command{
		Use:           "gpio-mirror",
		Short:         "Mirror a GPIO switch onto a GPIO LED",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromFlags(cmd.Flags())
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			path, _ := cmd.Flags().GetString(config.FlagConfig)
			return run(cmd.Context(), cfg, path, printState, os.Stdout)
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&printState, "print-state", false, "Print current switch state and exit")
	return cmd
}

func run(ctx context.Context, cfg config.Config, configPath string, printState bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Initialize GPIO
	pins, err := gpio.Open(cfg.PinConfig())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer func() {
		if err := pins.Close(); err != nil {
			log.Printf("gpio close: %v", err)
		}
	}()

	// Print state mode
	if printState {
		level, err := pins.ReadSwitch()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		fmt.Fprintf(out, "Switch: %s\n", mirror.StateOf(level))
		return nil
	}

	fmt.Fprintln(out, "<================ Control LED App ================>")
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintf(out, "Press the hard switch (GPIO %d) to light up the LED on GPIO %d\n", cfg.GPIO.SwitchPin, cfg.GPIO.LEDPin)

	// Initialize MQTT
	var publisher mqtt.Publisher = mqtt.NopPublisher{}
	var mqttStatus mqtt.ConnectionStatus = mqtt.NopPublisher{}
	if cfg.MQTT.Broker != "" {
		p := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		publisher, mqttStatus = p, p
	}
	defer publisher.Close()

	m := metrics.New()
	m.SetPollInterval(cfg.Poll.Duration)

	pinCfg := cfg.PinConfig()
	tracker := status.NewTracker(time.Now(), status.Config{
		Backend:     cfg.GPIO.Backend,
		SwitchLine:  pinCfg.Line(pinCfg.SwitchPin),
		LEDLine:     pinCfg.Line(pinCfg.LEDPin),
		PollMs:      cfg.Poll.Milliseconds(),
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
	})

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	}

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, m.Registry)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reload := make(chan config.Config, 1)
	if configPath != "" {
		w := config.NewWatcher(configPath, reloadDebounce)
		if err := w.Start(); err != nil {
			log.Printf("config: watch %s: %v", configPath, err)
		} else {
			go w.Run(ctx, func(c config.Config) {
				select {
				case reload <- c:
				case <-ctx.Done():
				}
			})
		}
	}

	log.Printf("started: backend=%s switch=%d led=%d poll=%v broker=%q heartbeat=%v",
		cfg.GPIO.Backend, cfg.GPIO.SwitchPin, cfg.GPIO.LEDPin, cfg.Poll, cfg.MQTT.Broker, cfg.MQTT.Heartbeat)

	ticker := time.NewTicker(cfg.Poll.Duration)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sd := systemd.NewNotifier()
	if wd := sd.WatchdogInterval(); wd > 0 && wd <= cfg.Poll.Duration {
		log.Printf("systemd: watchdog %v is not longer than the poll interval %v", wd, cfg.Poll)
	}

	l := &loop{
		pins:       pins,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		metrics:    m,
		notifier:   sd,
		out:        out,
		now:        time.Now,
		cfg:        cfg,
		setPoll:    ticker.Reset,
	}
	sd.Ready()

	err = l.run(ctx, ticker.C, sigCh, reload)
	fmt.Fprintln(out, "[INFO] Exiting LED Control App...")
	return err
}
