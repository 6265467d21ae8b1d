//go:build unix

package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	"dev/bravebird/simulation-verifier/pkg/models"
)

// trackingLauncher keeps every rod session it hands out so tests can
// inspect the browser process after the runner has closed it
type trackingLauncher struct {
	*RodLauncher
	sessions []*rodSession
}

func (l *trackingLauncher) Launch(ctx context.Context) (Session, error) {
	session, err := l.RodLauncher.Launch(ctx)
	if err != nil {
		return nil, err
	}
	l.sessions = append(l.sessions, session.(*rodSession))
	return session, nil
}

// newBrowserRunner returns a runner on a real local Chromium, skipping the
// test when none is installed
func newBrowserRunner(t *testing.T, target string) (*Runner, *trackingLauncher) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}

	bin := os.Getenv("CHROME_BIN")
	if bin == "" {
		path, ok := launcher.LookPath()
		if !ok {
			t.Skip("no local Chromium found")
		}
		bin = path
	}

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.TargetURL = target
	cfg.SuccessPath = filepath.Join(dir, "simulation.png")
	cfg.ErrorPath = filepath.Join(dir, "error.png")
	cfg.ChromeBin = bin
	cfg.ReadyTimeout = 10 * time.Second
	cfg.NavigationTimeout = 10 * time.Second
	cfg.SettleDelay = 100 * time.Millisecond

	l := &trackingLauncher{RodLauncher: NewRodLauncher(cfg)}
	r := NewRunner(cfg, l)
	r.Out = io.Discard
	return r, l
}

// assertBrowserGone checks that the process and the user data dir of every
// session were removed
func assertBrowserGone(t *testing.T, l *trackingLauncher) {
	t.Helper()
	if len(l.sessions) != 1 {
		t.Fatalf("launched %d sessions, want 1", len(l.sessions))
	}
	s := l.sessions[0]

	pid := s.launcher.PID()
	if err := syscall.Kill(pid, 0); !errors.Is(err, syscall.ESRCH) {
		t.Errorf("browser process %d still present after Close: %v", pid, err)
	}

	if dir, ok := s.launcher.Get(flags.UserDataDir), s.launcher.Has(flags.UserDataDir); ok {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Errorf("user data dir %s not removed: %v", dir, err)
		}
	}
}

func TestRodRunSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "<html><body><h1>Simulation</h1></body></html>")
	}))
	defer server.Close()

	r, l := newBrowserRunner(t, server.URL)

	result := r.Run(context.Background())

	if result.Status != models.StatusSuccess {
		t.Fatalf("Status = %v, error = %q", result.Status, result.ErrorMessage)
	}
	data, err := os.ReadFile(r.Config().SuccessPath)
	if err != nil {
		t.Fatalf("success artifact: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")) {
		t.Errorf("success artifact is not a PNG: % x", data[:min(len(data), 8)])
	}
	assertBrowserGone(t, l)
}

func TestRodRunUnreachableTarget(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	target := "http://" + ln.Addr().String()
	ln.Close()

	r, l := newBrowserRunner(t, target)

	result := r.Run(context.Background())

	if result.Status != models.StatusFailed {
		t.Fatalf("Status = %v, want %v", result.Status, models.StatusFailed)
	}
	if !strings.Contains(result.ErrorMessage, ErrNavigation.Error()) {
		t.Errorf("ErrorMessage = %q, want a navigation failure", result.ErrorMessage)
	}
	if fileExists(r.Config().SuccessPath) {
		t.Errorf("success artifact written for an unreachable target")
	}
	assertBrowserGone(t, l)
}

func TestRodRunReadinessTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "<html><body>loading</body></html>")
	}))
	defer server.Close()

	r, l := newBrowserRunner(t, server.URL)
	r.cfg.ReadySelector = "#never-rendered"
	r.cfg.ReadyTimeout = 500 * time.Millisecond

	result := r.Run(context.Background())

	if result.Status != models.StatusFailed {
		t.Fatalf("Status = %v, want %v", result.Status, models.StatusFailed)
	}
	if !strings.Contains(result.ErrorMessage, ErrTimeout.Error()) {
		t.Errorf("ErrorMessage = %q, want a readiness timeout", result.ErrorMessage)
	}
	// The wait deadline must not carry over to the error capture
	if result.ArtifactPath != r.Config().ErrorPath {
		t.Errorf("ArtifactPath = %q, want the error screenshot", result.ArtifactPath)
	}
	if fileExists(r.Config().SuccessPath) {
		t.Errorf("success artifact written after a readiness timeout")
	}
	assertBrowserGone(t, l)
}
