package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facelookup/internal/config"
	"github.com/kozaktomas/facelookup/internal/database"
	"github.com/kozaktomas/facelookup/internal/database/mariadb"
	"github.com/kozaktomas/facelookup/internal/database/postgres"
	"github.com/kozaktomas/facelookup/internal/face"
	"github.com/kozaktomas/facelookup/internal/face/opencv"
	"github.com/kozaktomas/facelookup/internal/logging"
	"github.com/kozaktomas/facelookup/internal/lookup"
)

var rootCmd = &cobra.Command{
	Use:   "facelookup",
	Short: "Identify students from photos by face descriptor matching",
	Long: `facelookup extracts face descriptors from student photos, stores them
next to the student records and identifies the student shown in a query photo
by nearest-descriptor search.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase log verbosity (repeatable)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// app bundles what every command needs. Close releases it in reverse order.
type app struct {
	cfg     *config.Config
	logger  logr.Logger
	models  *face.Models
	closers []io.Closer
}

func (rt *app) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			rt.logger.Error(err, "close failed")
		}
	}
}

// newApp loads the configuration and builds the logger. The --verbose
// count raises the configured verbosity.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if v, err := cmd.Flags().GetCount("verbose"); err == nil && v > cfg.Log.Verbosity {
		cfg.Log.Verbosity = v
	}
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	return &app{cfg: cfg, logger: logger, closers: []io.Closer{closer}}, nil
}

// extractor builds the descriptor extractor over the ONNX models. The models
// load on first use.
func (rt *app) extractor() *face.Extractor {
	fc := rt.cfg.Face
	if rt.models == nil {
		rt.models = face.NewModels(opencv.NewLoader(fc), rt.logger)
		rt.closers = append(rt.closers, rt.models)
	}
	return face.NewExtractor(rt.models,
		face.WithDetectionThreshold(float32(fc.DetectionThreshold)),
		face.WithDownscaleSide(fc.DownscaleSide),
		face.WithGrayscaleRetry(fc.GrayscaleRetry),
		face.WithUploadDir(fc.UploadDir),
		face.WithLogger(rt.logger),
	)
}

// openStore connects the backend selected by the DATABASE_URL scheme.
func (rt *app) openStore(ctx context.Context) (database.StudentWriter, error) {
	if rt.cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	backend, err := database.BackendForURL(rt.cfg.Database.URL)
	if err != nil {
		return nil, err //nolint:wrapcheck // message names the scheme
	}

	switch backend {
	case database.BackendPostgres:
		rt.logger.V(1).Info("connecting to PostgreSQL")
		pool, err := postgres.Initialize(ctx, &rt.cfg.Database, rt.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		rt.closers = append(rt.closers, pool)
	case database.BackendMariaDB:
		rt.logger.V(1).Info("connecting to MariaDB")
		pool, err := mariadb.Initialize(ctx, &rt.cfg.Database, rt.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MariaDB: %w", err)
		}
		rt.closers = append(rt.closers, pool)
	}

	store, err := database.GetStudentWriter(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting student store: %w", err)
	}
	return store, nil
}

// service wires the extractor, the store and an optional descriptor index.
func (rt *app) service(ctx context.Context, withIndex bool) (*lookup.Service, error) {
	ext := rt.extractor()
	store, err := rt.openStore(ctx)
	if err != nil {
		return nil, err
	}
	var index *database.DescriptorIndex
	if withIndex {
		index = database.NewDescriptorIndex()
		database.RegisterDescriptorIndex(index)
	}
	return lookup.New(ext, store, index, lookup.Config{
		MatchThreshold: rt.cfg.Face.MatchThreshold,
		IndexMinSize:   rt.cfg.Database.IndexMinSize,
		UploadDir:      rt.cfg.Face.UploadDir,
	}, rt.logger), nil
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
