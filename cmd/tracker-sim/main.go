//go:build !tinygo

// Command tracker-sim runs the tracker on the host against a scripted
// radio and position source. Storage lives in SQLite so a restart behaves
// like a power cycle on the board.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"tracker-go/bus"
	"tracker-go/nvs/sqlitekv"
	"tracker-go/services/bridge"
	"tracker-go/services/config"
	"tracker-go/services/heartbeat"
)

func main() {
	profilePath := flag.String("profile", "", "TOML profile")
	scenarioPath := flag.String("scenario", "", "YAML scenario; interactive console when empty")
	flag.Parse()

	if err := run(*profilePath, *scenarioPath); err != nil {
		fmt.Fprintln(os.Stderr, "tracker-sim:", err)
		os.Exit(1)
	}
}

func run(profilePath, scenarioPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	prof, err := LoadProfile(profilePath)
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	cfg, err := prof.TrackerConfig()
	if err != nil {
		return fmt.Errorf("tracker config: %w", err)
	}
	nv, err := sqlitekv.Open(prof.DB)
	if err != nil {
		return err
	}
	defer nv.Close()

	b := bus.NewBus(32)
	ui := b.NewConnection("sim")

	// Embedded device config first, then the profile's merged tracker view.
	cctx := context.WithValue(ctx, config.CtxDeviceKey, prof.Device)
	if err := config.NewConfigService().Publish(cctx, b.NewConnection("config")); err != nil {
		return err
	}
	ui.Publish(ui.NewMessage(config.TopicTracker(), cfg, true))

	hb := &heartbeat.Service{Interval: time.Minute}
	if prof.HeartbeatS > 0 {
		hb.Interval = time.Duration(prof.HeartbeatS * float64(time.Second))
	}
	_ = hb.Start(ctx, b.NewConnection("heartbeat"))

	if prof.Bridge.Listen != "" {
		go bridge.Start(ctx, b.NewConnection("bridge"))
		ui.Publish(ui.NewMessage(bus.T("config", "bridge"), bridge.Config{
			Transport: bridge.TransportConfig{Type: "tcp", TCP: &bridge.TCPConfig{Listen: prof.Bridge.Listen}},
		}, true))
	}

	sim, err := NewSim(prof, cfg, nv, b, os.Stdout)
	if err != nil {
		return err
	}

	if scenarioPath != "" {
		sc, err := LoadScenario(scenarioPath)
		if err != nil {
			return fmt.Errorf("scenario: %w", err)
		}
		fmt.Println("scenario:", sc.Name)
		return sim.Run(ctx, sc)
	}
	return console(ctx, sim)
}

func console(ctx context.Context, sim *Sim) error {
	in := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for in.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if err := sim.Exec(ctx, in.Text()); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Println("error:", err)
		}
		fmt.Print("> ")
	}
	return in.Err()
}
