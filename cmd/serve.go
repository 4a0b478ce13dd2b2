package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facelookup/internal/database"
	"github.com/kozaktomas/facelookup/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the facelookup HTTP API.

The models are loaded at startup so a missing model file fails fast. When
HNSW_INDEX_PATH is set, the descriptor index is loaded from disk if it still
matches the database and saved again on shutdown.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if port := mustGetInt(cmd, "port"); port > 0 {
		rt.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		rt.cfg.Web.Host = host
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := rt.service(ctx, true)
	if err != nil {
		return err
	}
	if err := rt.models.Warm(); err != nil {
		// The API still starts; extraction endpoints answer 503.
		rt.logger.Error(err, "face models unavailable")
	}

	indexPath := rt.cfg.Database.HNSWIndexPath
	if n, err := svc.RefreshIndex(ctx, indexPath); err != nil {
		rt.logger.Error(err, "descriptor index unavailable, searches use a linear scan")
	} else if n > 0 {
		rt.logger.Info("descriptor index ready", "count", n, "path", indexPath)
	}

	server := web.NewServer(rt.cfg, svc, rt.logger)

	fmt.Printf("facelookup API listening on http://%s:%d\n", rt.cfg.Web.Host, rt.cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = server.Run(sigCtx, 30*time.Second)
	if err != nil {
		rt.logger.Error(err, "web server stopped")
	}
	saveDescriptorIndex(rt, indexPath)
	return err //nolint:wrapcheck // web wraps with context
}

// saveDescriptorIndex persists the registered index so the next start can skip
// the rebuild.
func saveDescriptorIndex(rt *app, path string) {
	index := database.GetDescriptorIndex()
	if path == "" || index == nil || index.Len() == 0 {
		return
	}
	if err := index.Save(path); err != nil {
		rt.logger.Error(err, "failed to save descriptor index", "path", path)
		return
	}
	rt.logger.Info("descriptor index saved", "path", path, "count", index.Len())
}
