// Dprox: CLI entry point.
//
// This tool builds a small virtual IPv4 subnet over UDP. Every node registers
// with one rendezvous server, which learns their public endpoints and relays
// packets between them, so peers behind NAT can reach each other.
//
// It can be launched interactively (no subcommand) or non-interactively via
// the server, client and info subcommands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/1ureka/dprox/internal/app"
	"github.com/1ureka/dprox/internal/config"
	"github.com/1ureka/dprox/internal/util"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil && !errors.Is(err, flag.ErrHelp) {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// Root context, cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Global flags.
	global := flag.NewFlagSet("dprox", flag.ContinueOnError)
	configPath := global.String("config", "", "Path to a YAML config file")
	debugMode := global.Bool("debug", false, "Enable debug logging")
	logFile := global.String("log-file", "", "Also write logs to this file (rotated)")
	global.Usage = usage(global)
	if err := global.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *debugMode {
		cfg.Log.Debug = true
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}

	if cfg.Log.Debug {
		util.EnableDebug()
	}
	closer := util.SetLogFile(util.LogFile{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer closer.Close()

	pterm.Info.Println(fmt.Sprintf("Dprox — v%s", version))
	pterm.Println()

	rest := global.Args()
	if len(rest) == 0 {
		// No subcommand: interactive mode.
		return runInteractive(ctx, cfg)
	}

	switch cmd, cmdArgs := rest[0], rest[1:]; cmd {
	case "server":
		fs := flag.NewFlagSet("server", flag.ContinueOnError)
		fs.StringVar(&cfg.Server.Listen, "l", cfg.Server.Listen, "Listen address")
		fs.IntVar(&cfg.Server.Port, "p", cfg.Server.Port, "Listen port, 1~65535")
		fs.IntVar(&cfg.Server.ID, "id", cfg.Server.ID, "Node identity of the rendezvous, 1~254")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		if err := cfg.ValidateServer(); err != nil {
			return err
		}
		err = app.RunServer(ctx, cfg)

	case "client":
		fs := flag.NewFlagSet("client", flag.ContinueOnError)
		fs.StringVar(&cfg.Client.Server, "s", cfg.Client.Server, "Rendezvous host")
		fs.IntVar(&cfg.Client.Port, "p", cfg.Client.Port, "Rendezvous port, 1~65535")
		fs.IntVar(&cfg.Client.ID, "id", cfg.Client.ID, "Node identity, 1~254 (random when 0)")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		if err := cfg.ValidateClient(); err != nil {
			return err
		}
		err = app.RunClient(ctx, cfg)

	case "info":
		fs := flag.NewFlagSet("info", flag.ContinueOnError)
		fs.StringVar(&cfg.Client.Server, "s", cfg.Client.Server, "Rendezvous host")
		fs.IntVar(&cfg.Client.Port, "p", cfg.Client.Port, "Rendezvous port, 1~65535")
		fs.DurationVar(&cfg.Query.Timeout, "timeout", cfg.Query.Timeout, "How long to wait for the reply")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		if err := cfg.ValidateQuery(); err != nil {
			return err
		}
		return app.RunInfo(ctx, cfg)

	default:
		global.Usage()
		return fmt.Errorf("unknown subcommand %q", cmd)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	util.LogInfo("successfully closed tunnel")
	return nil
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive asks for the role and its parameters when no subcommand is
// provided.
func runInteractive(ctx context.Context, cfg *config.Config) error {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Server — Run the rendezvous",
			"Client — Join a rendezvous",
			"Info   — List the nodes of a rendezvous",
		}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	switch {
	case strings.HasPrefix(role, "Server"):
		cfg.Server.Port = askPort("UDP port to listen on (1 ~ 65535)")
		if err := cfg.ValidateServer(); err != nil {
			return err
		}
		return app.RunServer(ctx, cfg)

	case strings.HasPrefix(role, "Client"):
		cfg.Client.Server = askHost()
		cfg.Client.Port = askPort("Rendezvous port (1 ~ 65535)")
		if err := cfg.ValidateClient(); err != nil {
			return err
		}
		return app.RunClient(ctx, cfg)

	default:
		cfg.Client.Server = askHost()
		cfg.Client.Port = askPort("Rendezvous port (1 ~ 65535)")
		return app.RunInfo(ctx, cfg)
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

func usage(fs *flag.FlagSet) func() {
	return func() {
		out := fs.Output()
		fmt.Fprintln(out, "Usage: dprox [-config file] [-debug] [-log-file path] <command> [flags]")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Commands:")
		fmt.Fprintln(out, "  server [-l 0.0.0.0] [-p 8080] [-id 5]    run the rendezvous")
		fmt.Fprintln(out, "  client -s host -p port [-id N]           join a rendezvous")
		fmt.Fprintln(out, "  info -s host -p port [-timeout 5s]       list registered nodes")
		fmt.Fprintln(out)
		fs.PrintDefaults()
	}
}

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= 1 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}

// askHost prompts the user for the rendezvous host until a non-empty one is
// entered.
func askHost() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Rendezvous host (e.g. 203.0.113.10)").
			Show()

		host := strings.TrimSpace(raw)
		if host != "" && !strings.ContainsAny(host, "/ ") {
			pterm.Println()
			return host
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a host name or IP address")
	}
}
