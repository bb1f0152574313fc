package cli

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sockdrill/internal/config"
	"sockdrill/internal/data"
	"sockdrill/internal/engine"
	"sockdrill/internal/hooks"
	"sockdrill/internal/launcher"
	"sockdrill/internal/request"
	"sockdrill/internal/summary"
	"sockdrill/internal/telemetry"
)

const httpClientTimeout = 30 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <script.yaml>",
		Short: "Run a load script",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().IntP("users", "u", 1, "concurrent virtual users")
	cmd.Flags().IntP("iterations", "i", 1, "scenario runs per user")
	cmd.Flags().StringP("output", "o", "text", "summary format: text | json")
	cmd.Flags().Bool("quiet", false, "suppress startup output")
	cmd.Flags().Bool("verbose", false, "debug logging (connections, HTTP wire traffic)")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	users, _ := cmd.Flags().GetInt("users")
	iterations, _ := cmd.Flags().GetInt("iterations")
	output, _ := cmd.Flags().GetString("output")
	quiet, _ := cmd.Flags().GetBool("quiet")
	verbose, _ := cmd.Flags().GetBool("verbose")

	if output != "text" && output != "json" {
		return exitError(exitRuntime, "--output must be 'text' or 'json', got %q", output)
	}

	scriptPath := args[0]
	script, err := config.LoadScript(scriptPath)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}

	var module hooks.Module
	if name := script.Config.Processor; name != "" {
		m, ok := hooks.Lookup(name)
		if !ok {
			return exitError(exitRuntime, "processor %q is not registered (available: %v)", name, hooks.Default.Names())
		}
		module = m
	}

	sources, err := data.LoadAll(script.Config.Payload, filepath.Dir(scriptPath))
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}

	level := slog.LevelWarn
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	var tlsConfig *tls.Config
	if script.Config.TLS.InsecureSkipVerify {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	client := &http.Client{Timeout: httpClientTimeout}
	if tlsConfig != nil {
		client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}
	var debug *request.DebugLogger
	if verbose {
		debug = request.NewDebugLogger(cmd.ErrOrStderr())
	}

	bus := telemetry.NewBus()
	eng := engine.New(engine.Options{
		Target:   script.Config.Target,
		Timeout:  script.Config.TimeoutDuration(),
		Query:    script.Config.SocketIO.Query,
		Headers:  script.Config.SocketIO.Headers,
		TLS:      tlsConfig,
		Bus:      bus,
		Hooks:    module,
		Delegate: request.New(script.Config.Target, client, bus, debug),
		Logger:   log,
	})

	scenarios := make([]launcher.Scenario, 0, len(script.Scenarios))
	for _, sc := range script.Scenarios {
		compiled, err := eng.Compile(sc)
		if err != nil {
			return exitError(exitRuntime, "%v", err)
		}
		scenarios = append(scenarios, compiled)
	}

	seed := func(vars map[string]any) {
		for name, value := range script.Config.Variables {
			vars[name] = value
		}
		sources.Seed(vars)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !quiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "sockdrill starting: %d users x %d iterations, %d scenario(s), target %s\n",
			users, iterations, len(scenarios), script.Config.Target)
	}

	report := summary.Watch(bus)
	launcher.Launch(ctx, launcher.Options{
		Users:      users,
		Iterations: iterations,
		Scenarios:  scenarios,
		Seed:       seed,
		Bus:        bus,
		Logger:     log,
	})
	interrupted := ctx.Err() != nil

	bus.Close()
	report.Stop()
	snap := report.Snapshot()

	if output == "json" {
		summary.PrintJSON(cmd.OutOrStdout(), snap)
	} else {
		summary.PrintText(cmd.OutOrStdout(), snap)
	}

	if interrupted {
		return nil
	}
	if snap.Errors > 0 {
		return exitError(exitFailures, "run finished with %d error(s)", snap.Errors)
	}
	return nil
}
