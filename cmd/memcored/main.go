// Command memcored is the control-plane entry point: it loads a
// configuration file, opens a memreader.Session against a physical-memory
// dump file, wires every analysis subsystem into an api.Server, and serves
// it over HTTP. An FPGA-backed VMM session is constructed the same way by an
// embedder that links a concrete memreader.VMM implementation and builds its
// own api.Deps; this binary only drives the dump-file backend that ships in
// this module. Grounded on saferwall-pe's cmd/pedumper.go cobra command
// structure (root command plus subcommands, flags read through
// cmd.Flags()) rather than its sibling cmd/main.go, which uses the stdlib
// flag package directly — cobra is the dependency already carried in go.mod
// and is the pack's established CLI convention.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/memcore-dev/memcore/api"
	"github.com/memcore-dev/memcore/cachestore"
	"github.com/memcore-dev/memcore/config"
	"github.com/memcore-dev/memcore/diff"
	"github.com/memcore-dev/memcore/logging"
	"github.com/memcore-dev/memcore/memreader"
	"github.com/memcore-dev/memcore/pagecache"
	"github.com/memcore-dev/memcore/taskmanager"
)

const version = "0.1.0"

func main() {
	var configPath string
	var dumpPath string
	var bindOverride string
	var portOverride int

	rootCmd := &cobra.Command{
		Use:   "memcored",
		Short: "DMA-based process introspection control plane",
		Long:  "memcored serves the analysis core (paged memory cache, decoder, function recovery, RTTI, schema dumper, task manager) over a local HTTP/JSON control plane.",
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("memcored version", version)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the control-plane HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, dumpPath, bindOverride, portOverride)
		},
	}
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to a TOML configuration file (defaults are used when absent)")
	serveCmd.Flags().StringVar(&dumpPath, "dump", "", "path to a flat physical-memory dump file (required; the dump is the only backend this binary opens)")
	serveCmd.Flags().StringVar(&bindOverride, "bind", "", "override the configured bind address")
	serveCmd.Flags().IntVar(&portOverride, "port", 0, "override the configured port")

	rootCmd.AddCommand(versionCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "memcored:", err)
		os.Exit(1)
	}
}

func serve(configPath, dumpPath, bindOverride string, portOverride int) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if bindOverride != "" {
		cfg.BindAddress = bindOverride
	}
	if portOverride != 0 {
		cfg.Port = portOverride
	}

	logger := logging.Instance()
	if cfg.LogFilePath != "" {
		if err := logger.SetLogFile(cfg.LogFilePath); err != nil {
			return err
		}
	}
	log := logrus.NewEntry(logger.Logger)

	if dumpPath == "" {
		return fmt.Errorf("memcored: --dump is required; no VMM driver is wired into this binary (see memreader.VMM for the embedder-supplied FPGA backend)")
	}

	session, err := memreader.Open(memreader.Config{DumpPath: dumpPath})
	if err != nil {
		return err
	}
	defer session.Close()

	cache := pagecache.New(pagecache.Config{
		TTL:      cfg.Cache.TTL(),
		MaxPages: cfg.Cache.MaxPages,
	})

	store, err := cachestore.New(cfg.CacheDir)
	if err != nil {
		return err
	}

	tasks := taskmanager.Default()
	snapshots := diff.NewStore()
	bookmarks := api.NewBookmarkManager(bookmarksPath(cfg.CacheDir))
	history := api.NewSearchHistory(searchHistoryPath(cfg.CacheDir))

	server := api.NewServer(api.Deps{
		Config:    cfg,
		Session:   session,
		Cache:     cache,
		Store:     store,
		Tasks:     tasks,
		Snapshots: snapshots,
		Bookmarks: bookmarks,
		History:   history,
		Log:       log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("memcored listening on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-sigCh:
		log.Info("shutting down")
		_ = httpServer.Close()
	}
	return nil
}

func bookmarksPath(cacheDir string) string {
	if cacheDir == "" {
		return "bookmarks.json"
	}
	return filepath.Join(cacheDir, "bookmarks.json")
}

func searchHistoryPath(cacheDir string) string {
	if cacheDir == "" {
		return "search_history.json"
	}
	return filepath.Join(cacheDir, "search_history.json")
}
