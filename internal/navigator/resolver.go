// File: internal/navigator/resolver.go
package navigator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dfalqueto/senafine/internal/config"
)

// Solver is the external CAPTCHA solving collaborator: given a widget
// family, site key and page URL it eventually returns a solution token.
type Solver interface {
	Solve(ctx context.Context, family, siteKey, pageURL string) (string, error)
}

// Resolver recovers from detected challenges. Widgets are solved and their
// token injected; banners are waited out. Resolve reports success as a bool;
// timing out is an expected outcome, not an error, and the caller decides
// whether it is fatal.
type Resolver struct {
	driver   Driver
	detector *Detector
	solver   Solver // nil when no solving service is configured
	portal   config.PortalConfig
	timeouts config.TimeoutConfig
	logger   *zap.Logger
}

// NewResolver builds a Resolver. solver may be nil; widget challenges then
// fall back to the external-resolution wait (a human solving in a headful
// browser clears the marker the same way a banner clears).
func NewResolver(driver Driver, detector *Detector, solver Solver, portal config.PortalConfig, timeouts config.TimeoutConfig, logger *zap.Logger) *Resolver {
	return &Resolver{
		driver:   driver,
		detector: detector,
		solver:   solver,
		portal:   portal,
		timeouts: timeouts,
		logger:   logger.Named("resolver"),
	}
}

// Resolve attempts to clear a challenge within maxWait.
func (r *Resolver) Resolve(ctx context.Context, ch *Challenge, maxWait time.Duration) bool {
	r.logger.Info("Resolving challenge",
		zap.Stringer("kind", ch.Kind),
		zap.Duration("budget", maxWait))

	if ch.Kind == ChallengeCaptchaWidget && r.solver != nil {
		if r.solveWidget(ctx, ch) {
			return true
		}
		// Solving failed; the widget may still clear externally.
		r.logger.Warn("Widget solve failed, falling back to external-resolution wait")
	}

	return r.waitExternal(ctx, ch, maxWait)
}

// solveWidget extracts the site key, calls the external solver and injects
// the returned token into the page's response field.
func (r *Resolver) solveWidget(ctx context.Context, ch *Challenge) bool {
	siteKey, err := r.extractSiteKey(ctx, ch.Family)
	if err != nil {
		r.logger.Warn("Site key extraction failed", zap.Error(err))
		return false
	}

	pageURL, err := r.driver.CurrentURL(ctx)
	if err != nil {
		r.logger.Warn("Could not read page url for solver", zap.Error(err))
		return false
	}

	token, err := r.solver.Solve(ctx, ch.Family, siteKey, pageURL)
	if err != nil {
		r.logger.Warn("External solver failed", zap.Error(err))
		return false
	}

	if err := r.injectToken(ctx, ch.Family, token); err != nil {
		r.logger.Warn("Token injection failed", zap.Error(err))
		return false
	}

	r.logger.Info("Captcha token injected", zap.String("family", ch.Family))
	return true
}

// extractSiteKey reads the widget's site key from its container attribute,
// falling back to the widget iframe's URL parameters.
func (r *Resolver) extractSiteKey(ctx context.Context, family string) (string, error) {
	var containers []string
	switch family {
	case FamilyRecaptcha:
		containers = []string{".g-recaptcha", "div[class*='g-recaptcha']"}
	case FamilyHcaptcha:
		containers = []string{".h-captcha"}
	}

	for _, sel := range containers {
		key, ok, err := r.driver.Attribute(ctx, sel, "data-sitekey")
		if err == nil && ok && key != "" {
			return key, nil
		}
	}

	// Fall back to the k= parameter in the widget iframe src.
	js := fmt.Sprintf(`(() => {
		const frame = document.querySelector("iframe[src*='%s']");
		if (!frame) return null;
		const m = frame.src.match(/[?&](?:k|sitekey)=([^&]+)/);
		return m ? m[1] : null;
	})()`, family)
	var key *string
	if err := r.driver.Evaluate(ctx, js, &key); err != nil {
		return "", fmt.Errorf("site key probe failed: %w", err)
	}
	if key == nil || *key == "" {
		return "", fmt.Errorf("no site key found for %s widget", family)
	}
	return *key, nil
}

// injectToken writes the solved token into the hidden response field and
// pokes the page so its scripts notice.
func (r *Resolver) injectToken(ctx context.Context, family, token string) error {
	field := "g-recaptcha-response"
	if family == FamilyHcaptcha {
		field = "h-captcha-response"
	}

	js := fmt.Sprintf(`(() => {
		let done = false;
		document.querySelectorAll("textarea[name='%[1]s'], #%[1]s").forEach(el => {
			el.style.display = 'block';
			el.value = %[2]q;
			el.dispatchEvent(new Event('input', {bubbles: true}));
			el.dispatchEvent(new Event('change', {bubbles: true}));
			el.style.display = 'none';
			done = true;
		});
		if (window.___grecaptcha_cfg && typeof window.___grecaptcha_cfg.clients === 'object') {
			// Fire the widget callback when one is registered.
			try {
				for (const client of Object.values(window.___grecaptcha_cfg.clients)) {
					for (const v of Object.values(client)) {
						if (v && typeof v === 'object' && typeof v.callback === 'function') {
							v.callback(%[2]q);
							done = true;
						}
					}
				}
			} catch (e) {}
		}
		return done;
	})()`, field, token)

	var injected bool
	if err := r.driver.Evaluate(ctx, js, &injected); err != nil {
		return err
	}
	if !injected {
		return fmt.Errorf("no %s field found on page", field)
	}
	return nil
}

// waitExternal polls for the challenge to clear without our help: the URL
// leaving the SSO host, the triggering marker staying gone for two
// consecutive ticks, or the flow advancing to the certificate-info page.
func (r *Resolver) waitExternal(ctx context.Context, ch *Challenge, maxWait time.Duration) bool {
	goneStreak := 0

	// The leave-the-host condition only means anything when the challenge
	// appeared on the SSO host in the first place.
	onSSO := false
	if startURL, err := r.driver.CurrentURL(ctx); err == nil {
		onSSO = strings.Contains(startURL, r.portal.SSOHost)
	}

	err := pollUntil(ctx, r.logger, pollSpec{
		name:          "challenge_" + ch.Kind.String(),
		tick:          r.timeouts.ChallengeTick,
		timeout:       maxWait,
		progressEvery: r.timeouts.ProgressEvery,
	}, func(ctx context.Context) (bool, error) {
		url, err := r.driver.CurrentURL(ctx)
		if err == nil {
			if onSSO && !strings.Contains(url, r.portal.SSOHost) {
				r.logger.Info("Challenge cleared: url left the sso host", zap.String("url", url))
				return true, nil
			}
			if strings.Contains(url, r.portal.CertInfoFragment) {
				r.logger.Info("Challenge cleared: flow advanced to certificate info page")
				return true, nil
			}
		}

		present, probeErr := r.detector.markerPresent(ctx, ch)
		if probeErr != nil {
			// Transient probe failure; keep the streak and try next tick.
			r.logger.Debug("Marker probe failed", zap.Error(probeErr))
			return false, nil
		}
		if present {
			goneStreak = 0
			return false, nil
		}
		goneStreak++
		if goneStreak >= 2 {
			r.logger.Info("Challenge cleared: marker gone", zap.String("marker", ch.Marker))
			return true, nil
		}
		return false, nil
	})

	if err != nil {
		r.logger.Warn("Challenge did not clear within budget",
			zap.Stringer("kind", ch.Kind), zap.Error(err))
		return false
	}
	return true
}
