package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"berrytrace/internal/config"
	"berrytrace/internal/db"
	"berrytrace/internal/describe"
	"berrytrace/internal/describe/claude"
	"berrytrace/internal/domain"
	"berrytrace/internal/imagestore"
	"berrytrace/internal/logging"
	"berrytrace/internal/metrics"
	"berrytrace/internal/qrcode"
	"berrytrace/internal/service"
	"berrytrace/internal/store"
	"berrytrace/internal/web"
)

// app bundles the constructed services for one command invocation.
type app struct {
	cfg      *config.Config
	database *sql.DB
	service  *service.TraceService
	registry *prometheus.Registry
	logger   *slog.Logger
}

func newApp() (*app, func(), error) {
	cfg := config.Load()

	logger, logCleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logCleanup()
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	generator, err := qrcode.NewGenerator(cfg.QRPath, cfg.QRSize, cfg.QRBorder, cfg.QRPrefix, logger)
	if err != nil {
		_ = database.Close()
		logCleanup()
		return nil, nil, err
	}

	images, err := imagestore.NewStore(cfg.ImagePath, cfg.MaxImageDim, cfg.ThumbnailDim, logger)
	if err != nil {
		_ = database.Close()
		logCleanup()
		return nil, nil, err
	}

	var describer describe.Describer
	if cfg.ClaudeAPIKey != "" {
		logger.Info("claude describer enabled", "model", cfg.ClaudeModel)
		describer = claude.New(cfg.ClaudeAPIKey, cfg.ClaudeModel)
	}

	registry := prometheus.NewRegistry()

	svc := service.NewTraceService(
		store.NewItemStore(database),
		store.NewRecordStore(database),
		generator,
		images,
		describer,
		database,
		metrics.New(registry),
		logger,
		service.Options{
			MaxRecordsPerItem: cfg.MaxRecordsPerItem,
			DescribeRetries:   cfg.DescribeRetries,
		},
	)

	cleanup := func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
		logCleanup()
	}
	return &app{cfg: cfg, database: database, service: svc, registry: registry, logger: logger}, cleanup, nil
}

func run(f func(a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()
		return f(a, cmd, args)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(data))
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "berrytrace",
	Short: "Track berries through photographic observations",
	Long:  `Tracks individually identified berries through a lifecycle of photo observations, each addressed by a scannable identity code.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
		server := web.NewServer(a.service, a.registry, a.logger)
		return server.ListenAndServe(a.cfg.ListenAddr)
	}),
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new item with a generated identity code",
	RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
		notes, _ := cmd.Flags().GetString("notes")
		prefix, _ := cmd.Flags().GetString("prefix")
		item, err := a.service.CreateItem(cmd.Context(), notes, prefix)
		if err != nil {
			return err
		}
		return printJSON(cmd, item)
	}),
}

var observeCmd = &cobra.Command{
	Use:   "observe <item-id> <image-path>",
	Short: "Record a photographic observation of an item",
	Args:  cobra.ExactArgs(2),
	RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		stage, _ := cmd.Flags().GetString("stage")
		health, _ := cmd.Flags().GetString("health")
		desc, _ := cmd.Flags().GetString("description")
		rec, err := a.service.AddObservation(cmd.Context(), id, args[1], service.ObservationInput{
			Description:  desc,
			GrowthStage:  stage,
			HealthStatus: health,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, rec)
	}),
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List items with their latest observation",
	RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := a.service.ListWithLatest(cmd.Context(), domain.Status(status), limit)
		if err != nil {
			return err
		}
		return printJSON(cmd, entries)
	}),
}

var showCmd = &cobra.Command{
	Use:   "show <item-id>",
	Short: "Show an item and all its observations",
	Args:  cobra.ExactArgs(1),
	RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		info, err := a.service.GetFullInfo(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, info)
	}),
}

var findCmd = &cobra.Command{
	Use:   "find <code>",
	Short: "Find an item by its identity code",
	Args:  cobra.ExactArgs(1),
	RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
		info, err := a.service.FindByCode(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, info)
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status <item-id> <status>",
	Short: "Change an item's lifecycle status",
	Args:  cobra.ExactArgs(2),
	RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		item, err := a.service.UpdateStatus(cmd.Context(), id, domain.Status(args[1]))
		if err != nil {
			return err
		}
		return printJSON(cmd, item)
	}),
}

var deleteCmd = &cobra.Command{
	Use:   "delete <item-id>",
	Short: "Delete an item, its records, and their artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := a.service.DeleteItem(cmd.Context(), id); err != nil {
			return err
		}
		cmd.Printf("deleted item %d\n", id)
		return nil
	}),
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run an integrity scan over rows and artifacts",
	RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
		report, err := a.service.IntegrityScan(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the statistics report",
	RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
		report, err := a.service.StatisticsReport(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	}),
}

var exportCmd = &cobra.Command{
	Use:   "export <item-id>",
	Short: "Export an item and its records as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		data, err := a.service.Export(cmd.Context(), id)
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}),
}

var batchQRCmd = &cobra.Command{
	Use:   "batch-qr <count>",
	Short: "Pre-generate identity codes and images",
	Args:  cobra.ExactArgs(1),
	RunE: run(func(a *app, cmd *cobra.Command, args []string) error {
		count, err := parseID(args[0])
		if err != nil {
			return err
		}
		prefix, _ := cmd.Flags().GetString("prefix")
		identities := a.service.BatchGenerateCodes(int(count), prefix)
		return printJSON(cmd, identities)
	}),
}

func parseID(raw string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(raw, "%d", &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: malformed id %q", domain.ErrInvalid, raw)
	}
	return id, nil
}

func init() {
	createCmd.Flags().String("notes", "", "free-text notes for the item")
	createCmd.Flags().String("prefix", "", "identity code prefix (default from config)")
	observeCmd.Flags().String("stage", "", "growth stage tag")
	observeCmd.Flags().String("health", "", "health status tag (default healthy)")
	observeCmd.Flags().String("description", "", "description (generated when empty and a describer is configured)")
	listCmd.Flags().String("status", "", "filter by lifecycle status")
	listCmd.Flags().Int("limit", 0, "cap the number of entries")
	batchQRCmd.Flags().String("prefix", "", "identity code prefix")

	rootCmd.AddCommand(serveCmd, createCmd, observeCmd, listCmd, showCmd, findCmd,
		statusCmd, deleteCmd, scanCmd, statsCmd, exportCmd, batchQRCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.SetFlags(0)
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}
