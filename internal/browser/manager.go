// File: internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/dfalqueto/senafine/internal/browser/stealth"
	"github.com/dfalqueto/senafine/internal/config"
)

// Manager handles the lifecycle of the Chromium process. One sequential
// scraping flow runs per process, but the manager still tracks open pages so
// shutdown can drain them.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	// allocatorCtx manages the browser process. Page contexts derive from it.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// persona is the fingerprint applied to every new page.
	persona stealth.Persona

	// wg tracks open pages for a graceful shutdown.
	wg sync.WaitGroup
}

// NewManager launches the browser process and verifies it is responsive.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser"),
		cfg:    cfg,
	}

	if cfg.Stealth.Enabled && cfg.Stealth.RandomizeFingerprint {
		m.persona = stealth.RandomPersona()
	} else {
		m.persona = stealth.DefaultPersona()
	}

	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

// launchBrowser prepares allocator options and starts the browser process.
func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...",
		zap.Bool("headless", m.cfg.Browser.Headless),
		zap.String("user_data_dir", m.cfg.Browser.UserDataDir))

	opts := m.buildAllocatorOptions()

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	m.allocatorCtx = allocCtx
	m.allocatorCancel = cancel

	// Verify the browser starts and responds before handing it to the flow.
	testCtx, cancelTest := context.WithTimeout(allocCtx, 30*time.Second)
	testCtx, cancelTestCtx := chromedp.NewContext(testCtx)
	defer cancelTestCtx()
	defer cancelTest()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		m.allocatorCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.",
		zap.String("user_agent", m.persona.UserAgent))
	return nil
}

// buildAllocatorOptions assembles the flags for a stealthy browser instance.
// The certificate SSO flow needs a real profile directory so the client
// certificate and session cookies survive across runs.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	// Filter out the "enable-automation" flag. Flags are stored in a map and
	// boolean false flags are never emitted, so overriding with false removes
	// it from the command line.
	opts = append(opts, chromedp.Flag("enable-automation", false))

	opts = append(opts,
		chromedp.Flag("headless", m.cfg.Browser.Headless),
		chromedp.Flag("ignore-certificate-errors", m.cfg.Browser.IgnoreTLSErrors),
		// Disable the Blink feature that sets navigator.webdriver.
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", m.cfg.Browser.Headless),
		chromedp.Flag("window-size", fmt.Sprintf("%d,%d", m.cfg.Browser.WindowWidth, m.cfg.Browser.WindowHeight)),
		chromedp.UserAgent(m.persona.UserAgent),
	)

	if m.cfg.Browser.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(m.cfg.Browser.UserDataDir))
	}
	if m.cfg.Browser.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.Browser.ExecPath))
	}

	// Custom arguments from the config file.
	for _, arg := range m.cfg.Browser.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required inside containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

// NewPage creates a new browser tab with the stealth profile applied.
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	combined, combinedCancel := CombineContext(m.allocatorCtx, ctx)

	tabCtx, tabCancel := chromedp.NewContext(combined)
	cancel := func() {
		tabCancel()
		combinedCancel()
	}

	if m.cfg.Stealth.Enabled {
		if err := chromedp.Run(tabCtx, stealth.Apply(m.persona, m.logger)); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to apply stealth profile: %w", err)
		}
	} else if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	m.wg.Add(1)
	page := newPage(tabCtx, m.logger, m.cfg.Timeouts)
	page.onClose = func() {
		cancel()
		m.wg.Done()
	}
	return page, nil
}

// Shutdown waits for open pages to close and terminates the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated. Waiting for open pages...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All pages have closed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	if m.allocatorCancel != nil {
		m.logger.Info("Shutting down browser process...")
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}
	return nil
}

// CombineContext returns a context that is canceled when either parent is.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(parentCtx)

	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
