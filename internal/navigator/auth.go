// File: internal/navigator/auth.go
package navigator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dfalqueto/senafine/internal/behavior"
	"github.com/dfalqueto/senafine/internal/config"
)

// authState tracks progress through the login sequence.
type authState int

const (
	stateStart authState = iota
	stateHomeLoaded
	stateSSORedirected
	stateCertSelectionPending
	stateWaitingPortalRedirect
	stateLoggedIn
	stateFailed
)

func (s authState) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateHomeLoaded:
		return "home_loaded"
	case stateSSORedirected:
		return "sso_redirected"
	case stateCertSelectionPending:
		return "certificate_selection_pending"
	case stateWaitingPortalRedirect:
		return "waiting_portal_redirect"
	case stateLoggedIn:
		return "logged_in"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrAuthFailed is the session-fatal outcome of the login sequence.
var ErrAuthFailed = errors.New("authentication failed")

// DialogAutomator is the optional helper for the OS-level certificate
// dialog, which lives outside the page and outside CDP's reach. Failure is
// always non-fatal: the manual path (a human clicking the dialog) is the
// default, and the URL polling below observes its effect either way.
type DialogAutomator interface {
	ConfirmCertificate(ctx context.Context) error
}

// NoopDialog is the default DialogAutomator: it does nothing and reports
// success, leaving the dialog to the human operator.
type NoopDialog struct{}

func (NoopDialog) ConfirmCertificate(context.Context) error { return nil }

// Authenticator drives the certificate SSO login sequence.
type Authenticator struct {
	driver   Driver
	detector *Detector
	resolver *Resolver
	behavior *behavior.Simulator
	dialog   DialogAutomator
	cfg      *config.Config
	logger   *zap.Logger

	state authState
}

// NewAuthenticator builds an Authenticator. dialog may be nil; NoopDialog is
// used then.
func NewAuthenticator(driver Driver, detector *Detector, resolver *Resolver, sim *behavior.Simulator, dialog DialogAutomator, cfg *config.Config, logger *zap.Logger) *Authenticator {
	if dialog == nil {
		dialog = NoopDialog{}
	}
	return &Authenticator{
		driver:   driver,
		detector: detector,
		resolver: resolver,
		behavior: sim,
		dialog:   dialog,
		cfg:      cfg,
		logger:   logger.Named("auth"),
		state:    stateStart,
	}
}

func (a *Authenticator) transition(to authState) {
	a.logger.Info("Auth state transition",
		zap.Stringer("from", a.state), zap.Stringer("to", to))
	a.state = to
}

// AlreadyAuthenticated probes the protected vehicle list directly. When a
// prior run's cookies are still valid the portal serves it without an SSO
// redirect and the whole state machine can be skipped.
func (a *Authenticator) AlreadyAuthenticated(ctx context.Context) bool {
	a.logger.Info("Probing for an existing authenticated session")
	if err := a.driver.Navigate(ctx, a.cfg.Portal.VehicleListURL); err != nil {
		a.logger.Debug("Probe navigation failed", zap.Error(err))
		return false
	}
	url, err := a.driver.CurrentURL(ctx)
	if err != nil || strings.Contains(url, a.cfg.Portal.SSOHost) {
		return false
	}
	if !a.verifyLoggedIn(ctx) {
		return false
	}
	a.logger.Info("Existing session is still authenticated, skipping login")
	a.state = stateLoggedIn
	return true
}

// Login runs the full state machine. It returns ErrAuthFailed (wrapped with
// phase context) when any state exhausts its budget.
func (a *Authenticator) Login(ctx context.Context) error {
	if err := a.loadHome(ctx); err != nil {
		return a.fail("home_load", err)
	}
	if err := a.redirectToSSO(ctx); err != nil {
		return a.fail("sso_redirect", err)
	}
	if err := a.selectCertificate(ctx); err != nil {
		return a.fail("certificate_selection", err)
	}
	if err := a.awaitPortalRedirect(ctx); err != nil {
		return a.fail("portal_redirect", err)
	}
	if !a.verifyLoggedIn(ctx) {
		return a.fail("verification", errors.New("no logged-in marker and login control still present"))
	}
	a.transition(stateLoggedIn)
	return nil
}

func (a *Authenticator) fail(phase string, err error) error {
	url, _ := a.driver.CurrentURL(context.Background())
	a.transition(stateFailed)
	a.logger.Error("Authentication failed",
		zap.String("phase", phase),
		zap.String("current_url", url),
		zap.Error(err))
	return fmt.Errorf("%w: phase %s: %v", ErrAuthFailed, phase, err)
}

// loadHome navigates to the portal home page. The driver's load-state
// ladder already tolerates the strict signals timing out.
func (a *Authenticator) loadHome(ctx context.Context) error {
	if err := a.driver.Navigate(ctx, a.cfg.Portal.HomeURL); err != nil {
		return err
	}
	_ = a.behavior.Pause(ctx)
	a.behavior.MaybeScroll(ctx, a.driver)
	a.transition(stateHomeLoaded)
	return nil
}

// redirectToSSO clicks the login control and waits for the SSO host.
func (a *Authenticator) redirectToSSO(ctx context.Context) error {
	// Short-circuit when a previous attempt already landed on the SSO.
	if url, err := a.driver.CurrentURL(ctx); err == nil && strings.Contains(url, a.cfg.Portal.SSOHost) {
		a.logger.Info("Already on sso host, skipping login click")
		a.transition(stateSSORedirected)
		return nil
	}

	if err := a.clickWithFallbacks(ctx, a.cfg.Selectors.LoginButton, a.cfg.Selectors.LoginTextFallbacks); err != nil {
		return fmt.Errorf("login control not found: %w", err)
	}
	_ = a.behavior.ShortPause(ctx)

	err := a.pollForURL(ctx, "sso_redirect", a.cfg.Timeouts.SSORedirect, func(url string) bool {
		return strings.Contains(url, a.cfg.Portal.SSOHost)
	})
	if err != nil {
		return fmt.Errorf("sso host never reached: %w", err)
	}
	a.transition(stateSSORedirected)
	return nil
}

// selectCertificate clicks the certificate option on the SSO page and fires
// the best-effort dialog automation.
func (a *Authenticator) selectCertificate(ctx context.Context) error {
	_ = a.behavior.Pause(ctx)

	if err := a.clickWithFallbacks(ctx, a.cfg.Selectors.CertificateButton, a.cfg.Selectors.CertTextFallbacks); err != nil {
		return fmt.Errorf("certificate control not found: %w", err)
	}
	a.transition(stateCertSelectionPending)

	// The OS certificate dialog is outside the page; automating it is
	// best-effort and inability to do so is not a failure.
	if err := a.dialog.ConfirmCertificate(ctx); err != nil {
		a.logger.Warn("Certificate dialog automation failed; waiting for manual selection", zap.Error(err))
	}

	err := a.pollForURL(ctx, "certificate_selection", a.cfg.Timeouts.CertificateSelection, func(url string) bool {
		if strings.Contains(url, a.cfg.Portal.CertInfoFragment) {
			// Success in progress: the SSO routes through a certificate
			// info page before the final redirect.
			return true
		}
		return strings.Contains(url, a.cfg.Portal.PortalHost) && !strings.Contains(url, a.cfg.Portal.SSOHost)
	})
	if err != nil {
		return fmt.Errorf("certificate selection did not advance: %w", err)
	}
	a.transition(stateWaitingPortalRedirect)
	return nil
}

// awaitPortalRedirect waits for the URL to settle on the portal host with
// neither the SSO host nor the certificate-info page present.
func (a *Authenticator) awaitPortalRedirect(ctx context.Context) error {
	err := a.pollForURL(ctx, "portal_redirect", a.cfg.Timeouts.Authentication, func(url string) bool {
		return strings.Contains(url, a.cfg.Portal.PortalHost) &&
			!strings.Contains(url, a.cfg.Portal.SSOHost) &&
			!strings.Contains(url, a.cfg.Portal.CertInfoFragment)
	})
	if err != nil {
		return fmt.Errorf("portal never reached after certificate selection: %w", err)
	}
	_ = a.driver.WaitReady(ctx)
	return nil
}

// pollForURL polls the current URL until ok reports true. On every tick it
// first runs the challenge detector and, when something is found, hands it
// to the resolver before continuing; the overall ceiling keeps governing.
func (a *Authenticator) pollForURL(ctx context.Context, name string, ceiling time.Duration, ok func(url string) bool) error {
	return pollUntil(ctx, a.logger, pollSpec{
		name:          name,
		tick:          a.cfg.Timeouts.PollTick,
		timeout:       ceiling,
		progressEvery: a.cfg.Timeouts.ProgressEvery,
	}, func(ctx context.Context) (bool, error) {
		if ch := a.detector.Detect(ctx); ch != nil {
			if !a.resolver.Resolve(ctx, ch, a.cfg.Timeouts.ChallengeResolution) {
				a.logger.Warn("Challenge unresolved, continuing under the overall ceiling",
					zap.Stringer("kind", ch.Kind))
			}
			return false, nil
		}
		url, err := a.driver.CurrentURL(ctx)
		if err != nil {
			a.logger.Debug("URL probe failed", zap.Error(err))
			return false, nil
		}
		return ok(url), nil
	})
}

// clickWithFallbacks tries the structural selector first and then each
// visible-text fallback. Exhausting every fallback is the error.
func (a *Authenticator) clickWithFallbacks(ctx context.Context, selector string, textFallbacks []string) error {
	var lastErr error
	if selector != "" {
		if err := a.driver.Click(ctx, selector); err == nil {
			a.logger.Debug("Clicked control", zap.String("selector", selector))
			return nil
		} else {
			lastErr = err
			a.logger.Debug("Structural selector failed, trying text fallbacks",
				zap.String("selector", selector), zap.Error(err))
		}
	}
	for _, text := range textFallbacks {
		if err := a.driver.ClickByText(ctx, text); err == nil {
			a.logger.Debug("Clicked control by text", zap.String("text", text))
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("all selectors exhausted: %w", lastErr)
}

// verifyLoggedIn confirms the session independently of the URL: any success
// marker present, or the login control absent. The URL alone lies; the
// portal serves its shell on the right host before deciding the session is
// anonymous.
func (a *Authenticator) verifyLoggedIn(ctx context.Context) bool {
	for _, marker := range a.cfg.Selectors.SuccessMarkers {
		n, err := a.driver.Count(ctx, marker)
		if err != nil {
			continue
		}
		if n > 0 {
			a.logger.Info("Logged-in marker present", zap.String("marker", marker))
			return true
		}
	}

	n, err := a.driver.Count(ctx, a.cfg.Selectors.LoginButton)
	if err == nil && n == 0 {
		// The structural selector can be stale; double-check with text.
		for _, text := range a.cfg.Selectors.LoginTextFallbacks {
			body, berr := a.driver.BodyText(ctx)
			if berr == nil && strings.Contains(body, text) {
				a.logger.Warn("Login control text still visible, not logged in",
					zap.String("text", text))
				return false
			}
		}
		a.logger.Info("Login control absent, session considered authenticated")
		return true
	}
	return false
}
