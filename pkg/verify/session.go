package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Session is one launched browser with a single open page
type Session interface {
	// Navigate loads url and waits for the load event
	Navigate(url string, timeout time.Duration) error
	// WaitElement blocks until selector matches an element
	WaitElement(selector string, timeout time.Duration) error
	// Screenshot captures the full page as PNG
	Screenshot() ([]byte, error)
	// Close releases the page, the browser and its process
	Close() error
}

// Launcher starts browser sessions
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// RodLauncher launches a local Chromium through go-rod
type RodLauncher struct {
	Headless  bool
	ChromeBin string // Empty means let rod find or download a browser
}

// NewRodLauncher creates a launcher from the browser fields of cfg
func NewRodLauncher(cfg Config) *RodLauncher {
	return &RodLauncher{
		Headless:  cfg.Headless,
		ChromeBin: cfg.ChromeBin,
	}
}

// Launch starts the browser process, connects to it and opens a blank page
func (rl *RodLauncher) Launch(ctx context.Context) (Session, error) {
	l := launcher.New().Context(ctx)

	if rl.ChromeBin != "" {
		l = l.Bin(rl.ChromeBin)
	}
	l = l.Headless(rl.Headless)

	// Additional Chrome flags for container compatibility
	l = l.Set("no-sandbox")
	l = l.Set("disable-gpu")
	l = l.Set("disable-dev-shm-usage")

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to start browser process: %w", err)
	}

	browser := rod.New().ControlURL(url).Context(ctx)
	if err := browser.Connect(); err != nil {
		shutdown(l, nil)
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		shutdown(l, browser)
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return &rodSession{launcher: l, browser: browser, page: page}, nil
}

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

func (s *rodSession) Navigate(url string, timeout time.Duration) error {
	p := s.page.Timeout(timeout)
	defer p.CancelTimeout()

	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (s *rodSession) WaitElement(selector string, timeout time.Duration) error {
	p := s.page.Timeout(timeout)
	defer p.CancelTimeout()

	_, err := p.Element(selector)
	return err
}

func (s *rodSession) Screenshot() ([]byte, error) {
	return s.page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// Close shuts the browser down and waits for its process to exit
func (s *rodSession) Close() error {
	return shutdown(s.launcher, s.browser)
}

// shutdown kills the browser process and removes its user data dir.
// browser is nil when the connection was never established.
func shutdown(l *launcher.Launcher, browser *rod.Browser) error {
	var err error
	if browser != nil {
		err = browser.Close()
	}
	l.Kill()
	l.Cleanup()
	return err
}
