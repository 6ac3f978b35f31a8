package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ayusman/moodwall/internal/app"
	"github.com/ayusman/moodwall/internal/config"
	"github.com/ayusman/moodwall/internal/logging"
	"github.com/ayusman/moodwall/internal/server"
	"github.com/ayusman/moodwall/internal/tray"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection loop and the mood page",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	f := cmd.Flags()
	f.String("addr", ":8080", "HTTP listen address")
	f.Int("camera", 0, "camera device index")
	f.Bool("tray", false, "show the menu bar icon")
	f.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	f.String("backend", "opencv", "detector backend (opencv, service, mock)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return err
	}
	if err := logging.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New(app.ConfigFrom(cfg))

	// A failed model load leaves the page up so it can show the error.
	if err := a.Start(ctx); err != nil {
		logrus.WithError(err).Error("detection disabled for this run")
	}
	defer a.Stop()

	webDir := cfg.Server.WebDir
	if webDir == "" {
		webDir = findWebDir()
	}
	if webDir != "" {
		logrus.WithField("dir", webDir).Info("serving static files")
	}

	srv := server.New(server.Config{
		StaticDir: webDir,
		App:       a,
		Frames:    a.Canvas(),
	})

	logrus.WithFields(logrus.Fields{
		"addr":    cfg.Server.Addr,
		"session": a.SessionID(),
	}).Info("starting server")

	if !cfg.Tray {
		return srv.ListenAndServe(ctx, cfg.Server.Addr)
	}

	// The tray must own the main goroutine.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx, cfg.Server.Addr)
	}()

	bindTray(ctx, cancel, a, uiURL(cfg.Server.Addr)).Run()

	cancel()
	return <-errCh
}

// bindTray builds a tray wired both ways to a: menu clicks drive the app,
// and toggles or commits made elsewhere show up in the menu.
func bindTray(ctx context.Context, cancel context.CancelFunc, a *app.App, url string) *tray.Tray {
	t := tray.New(a.IsEnabled())
	t.OnToggle(a.SetEnabled)
	t.OnOpenUI(func() {
		if err := openBrowser(url); err != nil {
			logrus.WithError(err).Warn("failed to open browser")
		}
	})
	t.OnQuit(cancel)

	// Keep the toggle in step with the web UI
	a.OnEnabledChange(t.SetEnabled)

	events, unsubscribe := a.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				t.Quit()
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				t.SetMood(ev.Emotion)
			}
		}
	}()

	return t
}

// uiURL turns a listen address into a browsable URL.
func uiURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://localhost:8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux", "freebsd":
		cmd = exec.Command("xdg-open", url)
	default:
		return errors.New("unsupported platform " + runtime.GOOS)
	}
	return cmd.Start()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.moodwall/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(home, ".moodwall", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
