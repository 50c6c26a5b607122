// Command payload-power switches a payload relay on battery power, driven by a
// PIR sensor and mode commands from a peer controller, and publishes
// transitions and status to MQTT.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/sweeney/payload-power/internal/adc"
	"github.com/sweeney/payload-power/internal/battery"
	"github.com/sweeney/payload-power/internal/config"
	"github.com/sweeney/payload-power/internal/controller"
	"github.com/sweeney/payload-power/internal/gpio"
	"github.com/sweeney/payload-power/internal/logic"
	"github.com/sweeney/payload-power/internal/mqtt"
	"github.com/sweeney/payload-power/internal/peer"
	"github.com/sweeney/payload-power/internal/status"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	out, err := diagOutput(cfg.Diag.Output)
	if err != nil {
		log.Fatal().Err(err).Msg("diag output")
	}
	defer out.Close()
	log.Logger = newLogger(out, cfg.LogLevel())

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

// diagOutput opens the diagnostic stream: stderr, or a serial device.
func diagOutput(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{os.Stderr}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

func run(cfg config.Config) error {
	if cfg.PrintConfig {
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	sampler := battery.NewSampler(adc.NewIIOReader(cfg.ADC.Path), cfg.BatteryConfig())

	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Print state mode: battery only, the relay line is left alone.
	if cfg.PrintState {
		reading, err := sampler.Sample(time.Now())
		if err != nil {
			return fmt.Errorf("sample battery: %w", err)
		}
		tracker.Update(controller.State{Battery: reading})
		fmt.Println(string(status.FormatJSON(tracker.Snapshot())))
		return nil
	}

	log.Info().
		Str("chip", cfg.GPIO.Chip).
		Int("relay_pin", cfg.GPIO.RelayPin).
		Bool("relay_active_high", cfg.GPIO.RelayActiveHigh).
		Int("motion_pin", cfg.GPIO.MotionPin).
		Str("adc", cfg.ADC.Path).
		Bool("cutoff", cfg.Battery.CutoffEnabled).
		Msg("payload-power booting")

	hw, err := gpio.Open(cfg.GPIOConfig())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer hw.Close()

	ctrl := controller.New(cfg.ControllerConfig(), hw.Relay, hw.Motion, sampler, log.Logger)
	handler := peer.NewHandler(ctrl, ctrl.Commands(), log.Logger)
	transport := peer.NewMQTTTransport(cfg.MQTT.Prefix, handler, log.Logger)

	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:    cfg.MQTT.Broker,
		ClientID:  cfg.MQTT.ClientID,
		Prefix:    cfg.MQTT.Prefix,
		OnConnect: transport.OnConnect,
		Logger:    log.Logger,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Publish startup event with full status snapshot
	tracker.Update(ctrl.State())
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Error().Err(err).Msg("failed to publish startup event")
	}

	log.Info().
		Dur("tick", cfg.Loop.Tick).
		Dur("window", cfg.Loop.ActivationWindow).
		Dur("heartbeat", cfg.Loop.Heartbeat).
		Str("broker", cfg.MQTT.Broker).
		Msg("started")

	ticker := time.NewTicker(cfg.Loop.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(ctrl, handler, publisher, publisher, tracker, cfg.Loop.Heartbeat, time.Now, ticker.C, sigCh)
}

func statusConfig(cfg config.Config) status.Config {
	return status.Config{
		TickMs:           cfg.Loop.Tick.Milliseconds(),
		SampleIntervalMs: cfg.Loop.SampleInterval.Milliseconds(),
		WindowMs:         cfg.Loop.ActivationWindow.Milliseconds(),
		HeartbeatMs:      cfg.Loop.Heartbeat.Milliseconds(),
		Broker:           cfg.MQTT.Broker,
		RelayActiveHigh:  cfg.GPIO.RelayActiveHigh,
		CutoffEnabled:    cfg.Battery.CutoffEnabled,
		CutoffVolts:      cfg.Battery.CutoffVolts,
	}
}

// runLoop drives the controller from tick until a signal arrives. Once the
// undervoltage cutoff latches, ticks are no longer consumed.
func runLoop(ctrl *controller.Controller, handler *peer.Handler, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	hb := logic.NewHeartbeat(heartbeat, now())

	refresh := func() status.Snapshot {
		tracker.Update(ctrl.State())
		if handler != nil {
			tracker.SetPeerStats(handler.Stats())
		}
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
		return tracker.Snapshot()
	}

	for {
		select {
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("shutting down")
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			snap := refresh()
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Error().Err(err).Msg("failed to publish shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			for _, event := range ctrl.Tick(t) {
				if err := publisher.Publish(event); err != nil {
					log.Warn().Err(err).Str("event", string(event.Type)).Msg("publish error")
				}
			}

			if ctrl.Suspended() {
				snap := refresh()
				event := mqtt.SystemEvent{
					Timestamp:  t,
					Event:      "CUTOFF",
					Reason:     "UNDERVOLTAGE",
					Retained:   true,
					RawPayload: status.FormatStatusEvent(snap, "CUTOFF", "UNDERVOLTAGE"),
				}
				if err := publisher.PublishSystem(event); err != nil {
					log.Error().Err(err).Msg("failed to publish cutoff event")
				}
				log.Warn().Float64("volts", snap.Battery.Voltage).Msg("suspended until restart")
				tick = nil
				continue
			}

			if hbData := hb.Check(t); hbData != nil {
				if net := readNetworkInfo(); net != nil {
					tracker.SetNetwork(net)
				}
				snap := refresh()
				log.Info().
					Dur("uptime", hbData.Uptime).
					Str("mode", string(snap.Mode)).
					Str("power", string(snap.Power)).
					Uint8("battery", snap.Battery.Percent).
					Msg("heartbeat")
				event := mqtt.SystemEvent{
					Timestamp:  hbData.Timestamp,
					Event:      "HEARTBEAT",
					RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
				}
				if err := publisher.PublishSystem(event); err != nil {
					log.Warn().Err(err).Msg("heartbeat publish error")
				}
				continue
			}

			refresh()
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
