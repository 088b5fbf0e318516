package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/Marcelo060877/ict-tutor-pwa/internal/api"
	"github.com/Marcelo060877/ict-tutor-pwa/internal/config"
	"github.com/Marcelo060877/ict-tutor-pwa/internal/learning"
	"github.com/Marcelo060877/ict-tutor-pwa/internal/offline"
	"github.com/Marcelo060877/ict-tutor-pwa/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the icttutor server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running icttutor server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show icttutor system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func initLogging(level string) *slog.Logger {
	lv := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		lv = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
	slog.SetDefault(logger)
	return logger
}

// probeHealth reports whether a server already answers on port.
func probeHealth(port int) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "icttutor.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "icttutor version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := initLogging(cfg.Log.Level)

	// Refuse to start a second instance. The health probe catches a live
	// server even when a stale PID file was left behind.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	if probeHealth(cfg.Server.Port) {
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("icttutor is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("icttutor is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	tracker := learning.NewTracker(store)

	// Build the offline cache manager over a plain network client.
	netClient := &http.Client{Timeout: 15 * time.Second}
	manager, err := offline.New(offline.Options{
		Version:  cfg.Cache.Version,
		Storage:  store,
		Fetcher:  netClient,
		BaseURL:  cfg.Cache.BaseURL,
		Manifest: cfg.Cache.ManifestPaths(),
		Shell:    cfg.Cache.Shell,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating cache manager: %w", err)
	}

	// Install and activate. An unreachable content origin is not fatal: the
	// server comes up, and a later activate command can retry the cycle.
	if err := manager.Install(ctx); err != nil {
		logger.Warn("static asset install failed, serving without precache", "error", err)
	} else if err := manager.Activate(ctx); err != nil {
		logger.Warn("cache activation failed", "error", err)
	}

	controller := offline.NewController(manager, logger)
	go controller.Run(ctx)

	// Connectivity hub, sync worker, and offline notifications.
	hub := offline.NewHub(true)
	worker := offline.NewSyncWorker(store, netClient, logger)
	worker.SetInterval(time.Duration(cfg.Sync.IntervalSeconds) * time.Second)
	worker.Attach(hub)
	offline.NotifyConnectivity(hub, offline.LogNotifier{Logger: logger}, logger)
	go worker.Run(ctx)

	appHandler := api.NewAppHandler(api.AppDeps{
		Store:           store,
		Tracker:         tracker,
		Control:         controller,
		Worker:          worker,
		Hub:             hub,
		Token:           cfg.API.AuthToken,
		SyncMaxAttempts: cfg.Sync.MaxAttempts,
	})

	// Content requests under /app/ route through the cache manager, so exam
	// content stays available when the origin is down.
	offlineClient := &http.Client{Transport: manager, Timeout: 15 * time.Second}

	topRouter := chi.NewRouter()
	topRouter.Mount("/", appHandler)
	topRouter.Handle("/app/*", appProxy(offlineClient, cfg.Cache.BaseURL, logger))

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: topRouter,
	}

	// Assistants reach the tracker over MCP: stdio for local clients plus a
	// streamable HTTP listener on the configured MCP port.
	mcpSrv := api.NewMCPServer(api.MCPDeps{Tracker: tracker})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("MCP stdio server error", "error", err)
		}
	}()
	httpMCP := server.NewStreamableHTTPServer(mcpSrv)
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	go func() {
		if err := httpMCP.Start(mcpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("MCP HTTP server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		httpMCP.Shutdown(shutdownCtx)
	}()
	logger.Info("MCP server started", "stdio", true, "http", mcpAddr)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "icttutor listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// appProxy forwards /app/* requests to the content origin through the cache
// manager's routing, stripping the /app prefix.
func appProxy(client *http.Client, baseURL string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/app")
		if path == "" {
			path = "/"
		}
		target := strings.TrimSuffix(baseURL, "/") + path
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}

		req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		req.Header = r.Header.Clone()

		resp, err := client.Do(req)
		if err != nil {
			if errors.Is(err, offline.ErrUnavailableOffline) {
				http.Error(w, "not available offline", http.StatusServiceUnavailable)
				return
			}
			logger.Warn("app proxy fetch failed", "url", target, "error", err)
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		for k, vals := range resp.Header {
			for _, v := range vals {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	}
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("icttutor is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop icttutor (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to icttutor (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Cache version", "%s", cfg.Cache.Version)
	printStatus("Content origin", "%s", cfg.Cache.BaseURL)

	if running {
		cli, err := newAPIClient()
		if err == nil {
			if syncResp, err := cli.get(ctx, "/sync/status"); err == nil {
				var status struct {
					Online  bool              `json:"online"`
					Pending []json.RawMessage `json:"pending"`
				}
				if decodeJSON(syncResp, &status) == nil {
					if status.Online {
						printStatus("Network", "online")
					} else {
						printStatus("Network", "offline")
					}
					printStatus("Pending mutations", "%d", len(status.Pending))
				}
			}
			if sumResp, err := cli.get(ctx, "/summary"); err == nil {
				var summary struct {
					Level             string `json:"level"`
					QuestionsAnswered int    `json:"questions_answered"`
					StreakDays        int    `json:"streak_days"`
				}
				if decodeJSON(sumResp, &summary) == nil {
					printStatus("Level", "%s", summary.Level)
					printStatus("Questions answered", "%d", summary.QuestionsAnswered)
					printStatus("Streak", "%d days", summary.StreakDays)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
