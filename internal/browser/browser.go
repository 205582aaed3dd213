// Package browser opens the authorization URL in the user's default browser.
// The OAuth flow happens in a real browser session so the backend can set its
// own cookies; the app only sees the final loopback redirect.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// OpenURL opens the URL in the default browser, falling back to
// platform-specific commands when the portable path fails.
func OpenURL(url string) error {
	err := open.Run(url)
	if err == nil {
		return nil
	}
	log.Debugf("browser: open-golang failed: %v, trying platform commands", err)
	return openPlatformSpecific(url)
}

func openPlatformSpecific(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux":
		for _, candidate := range linuxBrowsers() {
			if _, err := exec.LookPath(candidate); err == nil {
				cmd = exec.Command(candidate, url)
				break
			}
		}
		if cmd == nil {
			return fmt.Errorf("browser: no suitable browser found")
		}
	default:
		return fmt.Errorf("browser: unsupported operating system: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("browser: start command failed: %w", err)
	}
	return nil
}

// IsAvailable reports whether any mechanism for opening a browser exists on
// this system. Callers fall back to printing the URL when it does not.
func IsAvailable() bool {
	switch runtime.GOOS {
	case "darwin":
		_, err := exec.LookPath("open")
		return err == nil
	case "windows":
		_, err := exec.LookPath("rundll32")
		return err == nil
	case "linux":
		for _, candidate := range linuxBrowsers() {
			if _, err := exec.LookPath(candidate); err == nil {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func linuxBrowsers() []string {
	return []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}
}
