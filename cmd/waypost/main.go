// Package main provides the waypost command line client. It drives the
// backend-mediated OAuth sign-in flow from a terminal: it opens the
// authorization page in a browser, receives the redirect on a loopback
// server and manages the resulting session across invocations.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/waypost-app/waypost-go/internal/browser"
	"github.com/waypost-app/waypost-go/internal/buildinfo"
	"github.com/waypost-app/waypost-go/internal/callback"
	"github.com/waypost-app/waypost-go/internal/config"
	"github.com/waypost-app/waypost-go/internal/logging"
	"github.com/waypost-app/waypost-go/internal/watcher"
	"github.com/waypost-app/waypost-go/sdk/auth"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// callbackTimeout bounds how long the login command waits for the browser
// redirect before giving up.
const callbackTimeout = 5 * time.Minute

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var (
		login        bool
		handle       string
		status       bool
		whoami       bool
		logout       bool
		refresh      bool
		watch        bool
		noBrowser    bool
		callbackPort int
		configPath   string
		debug        bool
	)

	flag.BoolVar(&login, "login", false, "Sign in with your handle via the browser")
	flag.StringVar(&handle, "handle", "", "Account handle for -login (e.g. alice.example)")
	flag.BoolVar(&status, "status", false, "Show the current authentication state")
	flag.BoolVar(&whoami, "whoami", false, "Show the signed-in account")
	flag.BoolVar(&logout, "logout", false, "Sign out and clear the stored session")
	flag.BoolVar(&refresh, "refresh", false, "Force a session refresh")
	flag.BoolVar(&watch, "watch", false, "Watch the credential file and report external changes")
	flag.BoolVar(&noBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	flag.IntVar(&callbackPort, "callback-port", 0, "Fixed port for the OAuth callback server (0 picks one)")
	flag.StringVar(&configPath, "config", defaultConfigPath(), "Path to the configuration file")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	// A .env next to the binary can carry overrides for development setups.
	_ = godotenv.Load()

	logging.SetDebug(debug)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.LoggingToFile {
		if err = logging.EnableFileOutput(cfg.AuthDir); err != nil {
			log.Warnf("failed to enable log file: %v", err)
		}
	}

	service, err := auth.NewService(cfg, auth.ServiceArgs{})
	if err != nil {
		log.Fatalf("failed to initialize auth service: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service.Auth.LoadStoredCredentials(ctx)

	switch {
	case login:
		err = runLogin(ctx, service, handle, noBrowser, callbackPort)
	case logout:
		service.Auth.SignOut(ctx)
		fmt.Println("Signed out.")
	case whoami:
		err = runWhoami(ctx, service)
	case refresh:
		err = runRefresh(ctx, service)
	case watch:
		err = runWatch(ctx, cfg, service)
	case status:
		runStatus(ctx, service)
	default:
		fmt.Printf("waypost %s (%s, built %s)\n\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		flag.Usage()
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

// runLogin drives the whole browser sign-in: start the loopback callback
// server, begin the flow, open the authorization URL, and complete the flow
// from whichever callback shape the backend redirects with.
func runLogin(ctx context.Context, service *auth.Service, handle string, noBrowser bool, port int) error {
	if handle == "" {
		return fmt.Errorf("-login requires -handle")
	}

	server := callback.NewServer(port)
	if err := server.Start(); err != nil {
		return err
	}
	defer func() {
		_ = server.Stop(context.Background())
	}()

	authURL, err := service.Auth.StartDirectOAuthFlow(ctx, handle)
	if err != nil {
		return fmt.Errorf("starting sign-in failed: %w", err)
	}

	if noBrowser || !browser.IsAvailable() {
		fmt.Printf("Open this URL in your browser to continue:\n\n  %s\n\n", authURL)
	} else {
		fmt.Println("Opening your browser to continue sign-in...")
		if err = browser.OpenURL(authURL); err != nil {
			log.Warnf("could not open browser: %v", err)
			fmt.Printf("Open this URL in your browser to continue:\n\n  %s\n\n", authURL)
		}
	}

	result, err := server.WaitForCallback(callbackTimeout)
	if err != nil {
		return fmt.Errorf("waiting for sign-in callback failed: %w", err)
	}
	if result.Error != "" {
		return fmt.Errorf("sign-in was denied: %s", result.Error)
	}

	if err = service.Auth.HandleOAuthCallback(ctx, result.URL); err != nil {
		return fmt.Errorf("completing sign-in failed: %w", err)
	}

	if handle, ok := service.Auth.CurrentHandle(); ok {
		fmt.Printf("Signed in as %s.\n", handle)
	} else {
		fmt.Println("Signed in.")
	}
	return nil
}

// runWhoami asks the backend who the session belongs to, going through the
// authenticated request client so expired sessions are refreshed on the way.
func runWhoami(ctx context.Context, service *auth.Service) error {
	body, err := service.Requests.Do(ctx, http.MethodGet, "/api/auth/session", nil)
	if err != nil {
		return err
	}
	handle := gjson.GetBytes(body, "userHandle").String()
	did := gjson.GetBytes(body, "did").String()
	if handle == "" {
		return fmt.Errorf("backend session response carried no userHandle")
	}
	fmt.Printf("Handle: %s\nDID:    %s\n", handle, did)
	return nil
}

func runRefresh(ctx context.Context, service *auth.Service) error {
	cred, err := service.Auth.RefreshNow(ctx)
	if err != nil {
		return fmt.Errorf("session refresh failed: %w", err)
	}
	if expiresAt, ok := cred.ExpiresAt(); ok {
		fmt.Printf("Session valid until %s.\n", expiresAt.Local().Format(time.RFC1123))
	} else {
		fmt.Println("Session refreshed.")
	}
	return nil
}

// runWatch blocks and reports external credential changes until interrupted,
// mirroring what an embedded host does when several processes share one
// credential file.
func runWatch(ctx context.Context, cfg *config.Config, service *auth.Service) error {
	w, err := watcher.New(cfg.CredentialFile(), func(event watcher.Event) {
		if event.Removed {
			fmt.Println("Session cleared externally.")
		} else {
			fmt.Println("Session updated externally.")
		}
		service.Auth.LoadStoredCredentials(context.Background())
		fmt.Printf("State: %s\n", service.Auth.State())
	})
	if err != nil {
		return err
	}
	if err = w.Start(ctx); err != nil {
		return err
	}
	defer func() {
		_ = w.Stop()
	}()

	fmt.Printf("Watching %s (ctrl-c to stop)...\n", cfg.CredentialFile())
	<-ctx.Done()
	return nil
}

func runStatus(ctx context.Context, service *auth.Service) {
	service.Auth.ValidateSessionOnAppLaunch(ctx)
	fmt.Printf("State: %s\n", service.Auth.State())
	if err := service.Auth.LastError(); err != nil {
		fmt.Printf("Last error: %v\n", err)
	}
	if handle, ok := service.Auth.CurrentHandle(); ok {
		fmt.Printf("Account: %s\n", handle)
	}
}

func defaultConfigPath() string {
	if env := os.Getenv("WAYPOST_CONFIG"); env != "" {
		return env
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.waypost/config.yaml"
	}
	return "config.yaml"
}
