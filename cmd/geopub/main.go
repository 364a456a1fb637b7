// Package main provides the entry point for the geopub publishing service.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jobrunner/geopub/internal/adapters/geopackage"
	"github.com/jobrunner/geopub/internal/adapters/postgis"
	"github.com/jobrunner/geopub/internal/app"
	"github.com/jobrunner/geopub/internal/application"
	"github.com/jobrunner/geopub/internal/config"
	"github.com/jobrunner/geopub/internal/domain"
	"github.com/jobrunner/geopub/internal/ports/output"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "geopub",
	Short: "geopub - geodata order publishing service",
	Long: `geopub publishes geodata delivery orders into PostGIS.

It mirrors order deliveries from object storage, detects what each order
contains (vector GeoPackages, point clouds, rasters) and loads every vector
layer into a PostGIS schema with spatial indexes and load metadata.

Commands:
  process   publish one or all orders
  detect    inspect an order without loading it
  status    show pipeline state
  sync      mirror orders from storage once
  watch     run the full service (sync, watch, ops API)
  initdb    create the schema and metadata table
  cleanup   drop tables for orders removed from disk
  config    print the effective configuration`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("geopub %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var processCmd = &cobra.Command{
	Use:   "process [order-id...]",
	Short: "Publish orders into PostGIS",
	Long: `Publish the named orders, or every order in the download directory
when none are given. Layers already loaded from identical source files are
skipped.`,
	RunE: runProcess,
}

var detectCmd = &cobra.Command{
	Use:   "detect <order-id>",
	Short: "Inspect an order without loading it",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetect,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline state",
	RunE:  runStatus,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror orders from storage once",
	RunE:  runSync,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the full service",
	Long: `Run the service: periodic storage sync, download directory watching,
incremental processing and the operational HTTP API.`,
	RunE: runWatch,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE:  runConfig,
}

var initdbCmd = &cobra.Command{
	Use:   "initdb",
	Short: "Create the schema and metadata table",
	RunE:  runInitDB,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Drop tables for orders removed from disk",
	RunE:  runCleanup,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().String("download-dir", "./downloads", "order download directory")
	rootCmd.PersistentFlags().String("dsn", "", "PostGIS connection string")
	rootCmd.PersistentFlags().String("schema", "geodata", "destination schema")
	rootCmd.PersistentFlags().Int("target-srid", 4326, "SRID geometries are transformed to")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("processing.download_dir", rootCmd.PersistentFlags().Lookup("download-dir"))
	_ = viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("dsn"))
	_ = viper.BindPFlag("database.schema", rootCmd.PersistentFlags().Lookup("schema"))
	_ = viper.BindPFlag("database.target_srid", rootCmd.PersistentFlags().Lookup("target-srid"))

	// Process flags
	processCmd.Flags().StringSlice("layers", nil, "only publish the named layers")
	_ = viper.BindPFlag("processing.layers", processCmd.Flags().Lookup("layers"))

	// Watch flags
	watchCmd.Flags().String("host", "0.0.0.0", "server host")
	watchCmd.Flags().Int("port", 8080, "server port")
	watchCmd.Flags().String("storage-type", "local", "storage type (local, s3, azure)")
	watchCmd.Flags().String("storage-path", "./orders", "local storage path")
	_ = viper.BindPFlag("server.host", watchCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", watchCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("storage.type", watchCmd.Flags().Lookup("storage-type"))
	_ = viper.BindPFlag("storage.local_path", watchCmd.Flags().Lookup("storage-path"))

	rootCmd.AddCommand(processCmd, detectCmd, statusCmd, syncCmd, watchCmd, initdbCmd, cleanupCmd, configCmd, versionCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newProcessor wires a processor against the configured database. The caller
// closes the returned pool.
func newProcessor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application.Processor, *sql.DB, error) {
	db, err := postgis.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}

	opener := geopackage.NewOpener()
	loader := postgis.NewLoader(db, cfg.Database.Schema, opener, logger)
	detector := application.NewDetector(cfg.Processing.DownloadDir, opener, logger)
	processor := application.NewProcessor(
		detector,
		loader,
		opener,
		&output.NoOpMetrics{},
		logger,
		cfg.Database.TargetSRID,
		cfg.Database.BatchSize,
	)
	return processor, db, nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	processor, db, err := newProcessor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	processor.SetProgress(func(layer string, index, total int) {
		fmt.Printf("  [%d/%d] %s\n", index, total, layer)
	})

	var results []domain.ProcessResult
	if len(args) == 0 {
		results, err = processor.ProcessAll(ctx, cfg.Processing.Layers)
		if err != nil {
			return err
		}
	} else {
		for _, orderID := range args {
			results = append(results, processor.ProcessOrder(ctx, orderID, cfg.Processing.Layers))
		}
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
		fmt.Printf("%s: %s (%d layers, %d features, %d skipped)\n",
			r.OrderID, resultLabel(r), len(r.Results), r.FeatureTotal(), len(r.Skipped))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d orders failed", failed, len(results))
	}
	return nil
}

func resultLabel(r domain.ProcessResult) string {
	if r.Success {
		return "ok"
	}
	if r.Error != "" {
		return "failed: " + r.Error
	}
	return "failed"
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	detector := application.NewDetector(cfg.Processing.DownloadDir, geopackage.NewOpener(), logger)
	order, err := detector.Detect(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	view := map[string]interface{}{
		"order_id":   order.OrderID,
		"data_type":  string(order.DataType),
		"label":      order.DataType.Label(),
		"file_count": order.FileCount(),
		"total_size": order.TotalSize,
		"layers":     order.Layers,
	}
	if order.DataType == domain.TypePointCloudIndex {
		tiles, err := detector.Tiles(cmd.Context(), order.OrderID)
		if err != nil {
			return err
		}
		view["tiles"] = tiles
	}
	return printJSON(view)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	processor, db, err := newProcessor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	status, err := processor.Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := app.NewStorage(cmd.Context(), cfg.Storage)
	if err != nil {
		return err
	}

	syncer := application.NewSyncer(store, &output.NoOpMetrics{}, logger, cfg.Processing.DownloadDir)
	stats, err := syncer.Sync(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runConfig(_ *cobra.Command, _ []string) error {
	if _, _, err := loadConfig(); err != nil {
		return err
	}

	out, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func runInitDB(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := postgis.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	loader := postgis.NewLoader(db, cfg.Database.Schema, geopackage.NewOpener(), logger)
	if err := loader.Bootstrap(ctx); err != nil {
		return err
	}
	fmt.Printf("schema %s initialized\n", cfg.Database.Schema)
	return nil
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	processor, db, err := newProcessor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	dropped, err := processor.CleanupStaleTables(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("dropped %d stale layers\n", dropped)
	return nil
}

func runWatch(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("starting geopub",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage_type", cfg.Storage.Type,
		"schema", cfg.Database.Schema,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize application
	service, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := service.Start(ctx); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down server")
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
