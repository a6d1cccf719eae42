package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/luoyjx/lwwset/clock"
	"github.com/luoyjx/lwwset/config"
	"github.com/luoyjx/lwwset/lww"
	"github.com/luoyjx/lwwset/server"
	"github.com/luoyjx/lwwset/storage"
)

func main() {
	// Parse command line flags
	configFile := flag.StringP("config", "c", "", "path to a JSON or YAML config file")
	listenAddr := flag.String("listen", "", "address to serve the Redis protocol on")
	replicaID := flag.String("replica-id", "", "replica identifier (default: random UUID)")
	clockMode := flag.String("clock", "", "clock mode: hybrid or logical")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn or error")
	demo := flag.Bool("demo", false, "run the two-replica walkthrough and exit")
	flag.Parse()

	if *demo {
		if err := runDemo(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "demo failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadFromFile(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	config.LoadFromEnv(cfg)

	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *replicaID != "" {
		cfg.ReplicaID = *replicaID
	}
	if *clockMode != "" {
		cfg.ClockMode = *clockMode
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	store := storage.NewStore(storage.Config{
		ReplicaID: cfg.ReplicaID,
		Clock:     cfg.NewClock(),
		Logger:    logger,
	})

	srv := server.New(store, server.Config{
		SnapshotFormat:  cfg.Format(),
		MaxSnapshotSize: cfg.MaxSnapshotSize,
		Logger:          logger,
	})
	if err := srv.Start(cfg.ListenAddr); err != nil {
		return err
	}
	defer srv.Close()

	logger.Info("replica started",
		zap.String("replica", cfg.ReplicaID),
		zap.String("addr", srv.Addr()),
		zap.String("clock", cfg.ClockMode),
	)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully")
	return nil
}

// runDemo walks two replicas through concurrent adds, a merge and a removal,
// printing both replicas' logs after each step.
func runDemo(w io.Writer) error {
	c := clock.NewLogical()
	one := lww.New[string](lww.NewReplicaID(), lww.WithClock(c))
	two := lww.New[string](lww.NewReplicaID(), lww.WithClock(c))

	one.Add("string_a")
	one.Add("string_b")

	two.Add("string_b")
	two.Add("string_c")
	two.Add("string_d")

	steps := []struct {
		title string
		apply func()
	}{
		{"initial state", func() {}},
		{"replica one merges replica two", func() { one.Merge(two) }},
		{"replica one removes string_b", func() { one.Remove("string_b") }},
		{"replica two merges replica one", func() { two.Merge(one) }},
	}

	for _, step := range steps {
		step.apply()

		if _, err := fmt.Fprintf(w, "== %s\n", step.title); err != nil {
			return err
		}
		for _, replica := range []*lww.ElementSet[string]{one, two} {
			if err := replica.Display(w); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "members: %v\n", replica.Members()); err != nil {
				return err
			}
		}
	}

	converged := one.Compare(two) && two.Compare(one)
	_, err := fmt.Fprintf(w, "converged: %v\n", converged)
	return err
}
