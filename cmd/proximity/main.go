package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MiSideKick/BLE-Proximity/config"
	"github.com/MiSideKick/BLE-Proximity/exchange"
	"github.com/MiSideKick/BLE-Proximity/identity"
	"github.com/MiSideKick/BLE-Proximity/journal"
	"github.com/MiSideKick/BLE-Proximity/radio"
	"github.com/MiSideKick/BLE-Proximity/server"
	"github.com/MiSideKick/BLE-Proximity/storage"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var (
	cfgFile string
	logJSON bool

	numDevices  int
	simDuration time.Duration
	simSeed     int64

	dataDir string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "proximity",
		Short: "Anonymous identifier exchange between nearby devices",
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (default: ./proximity.yaml)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit JSON logs")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run N devices on one simulated air and report their ledgers",
		RunE:  runSimulate,
	}
	simulateCmd.Flags().IntVarP(&numDevices, "devices", "n", 2, "Number of simulated devices")
	simulateCmd.Flags().DurationVarP(&simDuration, "duration", "d", 30*time.Second, "How long to run the exchange")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "Deterministic seed (0 keeps the config's setting)")

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the persisted ledgers and recent sightings",
		RunE:  runInspect,
	}
	inspectCmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory to inspect (default: from config)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("proximity %s (commit: %s, built: %s)\n", Version, Commit, BuildDate)
		},
	}

	rootCmd.AddCommand(simulateCmd, inspectCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if logJSON {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func versionString() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if simSeed != 0 {
		cfg.Sim.Deterministic = true
		cfg.Sim.Seed = simSeed
	}
	if numDevices < 2 {
		return fmt.Errorf("need at least 2 devices, got %d", numDevices)
	}

	root, err := os.MkdirTemp("", "proximity-sim-")
	if err != nil {
		return fmt.Errorf("create sim root: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithTimeout(ctx, simDuration)
	defer cancel()

	air := radio.NewAir(cfg.RadioConfig(), logger)

	type deviceRun struct {
		dev     *radio.Device
		session *exchange.Session
		journal *journal.DB
	}

	// Simulated devices are named after the configured device name.
	prefix := cfg.Device.Name
	if prefix == "" {
		prefix = "device"
	}

	runs := make([]*deviceRun, 0, numDevices)
	for i := 0; i < numDevices; i++ {
		name := fmt.Sprintf("%s-%02d", prefix, i)
		dir := filepath.Join(root, name)
		devLog := logger.With(zap.String("device", name))

		blobs, err := storage.Open(cfg.Storage.Backend, filepath.Join(dir, "ledgers"), devLog)
		if err != nil {
			return fmt.Errorf("open storage for %s: %w", name, err)
		}
		store := identity.NewStore(blobs, cfg.StoreOptions(), devLog)

		var (
			jdb      *journal.DB
			recorder exchange.Recorder
		)
		if cfg.Journal.Enabled {
			jdb, err = journal.Open(filepath.Join(dir, "sightings.db"))
			if err != nil {
				return fmt.Errorf("open journal for %s: %w", name, err)
			}
			if n, err := jdb.PruneBefore(time.Now().Add(-cfg.Identity.PeerRetention)); err == nil && n > 0 {
				devLog.Debug("Pruned old sightings", zap.Int64("rows", n))
			}
			recorder = jdb
		}

		dev := air.Join(name)
		sess := exchange.NewSession(store, dev, cfg.ExchangeOptions(), recorder, exchange.LogNotifier{Log: devLog}, devLog)
		runs = append(runs, &deviceRun{dev: dev, session: sess, journal: jdb})
	}

	logger.Info("Simulation starting",
		zap.Int("devices", numDevices),
		zap.Duration("duration", simDuration),
		zap.String("dataRoot", root))

	errCh := make(chan error, len(runs))
	for _, r := range runs {
		r := r
		go func() { errCh <- r.session.Run(runCtx) }()
	}

	if cfg.Server.Addr != "" {
		srv := server.New(runs[0].session, runs[0].journal, versionString(), logger)
		go func() {
			if err := srv.Serve(runCtx, cfg.Server.Addr); err != nil {
				logger.Warn("Debug server failed", zap.Error(err))
			}
		}()
	}

	var firstErr error
	for range runs {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	fmt.Println()
	for _, r := range runs {
		st := r.session.Status()
		line := fmt.Sprintf("%s  myIds=%d peerIds=%d exchanges=%d received=%d rejected=%d",
			r.dev.Name(), st.MyIDs, st.PeerIDs, st.Exchanges, st.Received, st.Rejected)
		if r.journal != nil {
			if n, err := r.journal.CountSince(time.Time{}); err == nil {
				line += fmt.Sprintf(" sightings=%d", n)
			}
			r.journal.Close()
		}
		fmt.Println(line)
	}
	fmt.Printf("\nledgers kept under %s\n", root)
	return firstErr
}

func runInspect(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	ledgerDir := cfg.LedgerDir()
	journalPath := cfg.JournalPath()
	if dataDir != "" {
		ledgerDir = filepath.Join(dataDir, "ledgers")
		journalPath = filepath.Join(dataDir, "sightings.db")
	}

	blobs, err := storage.Open(cfg.Storage.Backend, ledgerDir, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer blobs.Close()

	now := time.Now()
	for _, name := range []string{identity.LedgerMine, identity.LedgerPeers} {
		fmt.Printf("%s:\n", name)
		data, err := blobs.Load(name)
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Println("  (empty)")
			continue
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
		ledger, err := identity.UnmarshalLedger(data)
		if err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		if ledger.Len() == 0 {
			fmt.Println("  (empty)")
		}
		for _, e := range ledger.Entries() {
			fmt.Printf("  %s  %s\n", e.ID, humanAge(now.Sub(time.Unix(e.ObservedAt, 0))))
		}
	}

	if _, err := os.Stat(journalPath); err == nil {
		jdb, err := journal.Open(journalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer jdb.Close()

		recent, err := jdb.Recent(10)
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		fmt.Println("recent sightings:")
		if len(recent) == 0 {
			fmt.Println("  (none)")
		}
		for _, s := range recent {
			line := fmt.Sprintf("  %s  %s  as %s", s.PeerID, humanAge(now.Sub(s.ObservedAt)), s.Role)
			if s.RSSI != nil {
				line += fmt.Sprintf("  rssi=%d", *s.RSSI)
			}
			fmt.Println(line)
		}
	}
	return nil
}

func humanAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh ago", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh%dm ago", hours, mins)
	case mins > 0:
		return fmt.Sprintf("%dm ago", mins)
	default:
		return "just now"
	}
}
