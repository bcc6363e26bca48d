// Cast: CLI entry point.
//
// This tool streams a video file from one peer to another over WebRTC. The two
// peers meet in a room of a small WebSocket relay, which only carries the
// negotiation; media flows peer-to-peer once connected. The same binary runs
// the relay.
//
// It can be launched interactively (no --role) or non-interactively via flags,
// CAST_* environment variables or a YAML file (--config).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/cast/internal/app"
	"github.com/1ureka/cast/internal/config"
	"github.com/1ureka/cast/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fs := pflag.NewFlagSet("cast", pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Cast — v%s", version))
	pterm.Println()

	if cfg.Role == "" {
		// No role → interactive mode.
		askInteractive(cfg)
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}

	util.StartStatsReporter(ctx, cfg.StatsInterval)

	switch cfg.Role {
	case config.RoleSend:
		err = app.RunSender(ctx, cfg)
	case config.RoleReceive:
		err = app.RunReceiver(ctx, cfg)
	case config.RoleRelay:
		err = app.RunRelay(ctx, cfg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		util.LogError("%s stopped: %v", cfg.Role, err)
		os.Exit(1)
	}

	util.LogInfo("successfully closed %s", cfg.Role)
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// askInteractive fills in the role and whatever that role still lacks.
func askInteractive(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Send    — Stream a video file to a peer",
			"Receive — Wait for a peer's stream",
			"Relay   — Run the rendezvous relay",
		}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	switch {
	case strings.HasPrefix(role, "Send"):
		cfg.Role = config.RoleSend
	case strings.HasPrefix(role, "Receive"):
		cfg.Role = config.RoleReceive
	default:
		cfg.Role = config.RoleRelay
		cfg.Listen = askText("Listen address", cfg.Listen)
		return
	}

	cfg.RelayURL = askText("Relay URL", cfg.RelayURL)
	cfg.Room = askRequired("Room key", cfg.Room)

	if cfg.Role == config.RoleSend {
		cfg.MediaFile = askRequired("IVF file to stream", cfg.MediaFile)
	} else if cfg.RecordFile == "" {
		cfg.RecordFile = askText("IVF file to record to (empty discards)", "")
	}
}

// askText prompts once, keeping def on an empty answer.
func askText(prompt, def string) string {
	if def != "" {
		prompt = fmt.Sprintf("%s [%s]", prompt, def)
	}
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(prompt).
		Show()
	pterm.Println()

	if v := strings.TrimSpace(raw); v != "" {
		return v
	}
	return def
}

// askRequired prompts until a non-empty answer is entered.
func askRequired(prompt, def string) string {
	for {
		if v := askText(prompt, def); v != "" {
			return v
		}
		util.LogWarning("invalid input: a value is required")
		pterm.Println()
	}
}
