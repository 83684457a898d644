// File: internal/navigator/challenge.go
package navigator

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dfalqueto/senafine/internal/config"
)

// ChallengeKind is the closed set of transient blockers the portal and its
// SSO throw at a session.
type ChallengeKind int

const (
	// ChallengeCaptchaWidget is a solvable on-page CAPTCHA widget.
	ChallengeCaptchaWidget ChallengeKind = iota
	// ChallengeCaptchaRejected is a server-side CAPTCHA rejection banner
	// with nothing interactable on the page.
	ChallengeCaptchaRejected
	// ChallengeSSOError is a gov.br SSO error code page (ERLnnn).
	ChallengeSSOError
	// ChallengeCertMissing is the SSO's certificate-not-found page.
	ChallengeCertMissing
)

func (k ChallengeKind) String() string {
	switch k {
	case ChallengeCaptchaWidget:
		return "captcha_widget"
	case ChallengeCaptchaRejected:
		return "captcha_rejected"
	case ChallengeSSOError:
		return "sso_error"
	case ChallengeCertMissing:
		return "certificate_missing"
	default:
		return "unknown"
	}
}

// Widget captcha families. The solver request shape differs per family.
const (
	FamilyRecaptcha = "recaptcha"
	FamilyHcaptcha  = "hcaptcha"
)

// Challenge is one detected blocker. Ephemeral: created at detection,
// discarded once resolved or given up on.
type Challenge struct {
	Kind       ChallengeKind
	Family     string
	Message    string
	Marker     string // selector (widget kinds) or text fragment (banner kinds)
	DetectedAt time.Time
}

// widgetProbes are the structural selectors for the known widget families,
// in detection priority order.
var widgetProbes = []struct {
	family    string
	selectors []string
}{
	{FamilyRecaptcha, []string{
		"iframe[src*='recaptcha']",
		".g-recaptcha",
		"div[class*='g-recaptcha']",
	}},
	{FamilyHcaptcha, []string{
		"iframe[src*='hcaptcha']",
		".h-captcha",
	}},
}

var ssoErrorPattern = regexp.MustCompile(`\bERL\d+\b`)

// Detector inspects the current page for blockers. All probes are read-only
// and individually failable: a probe that errors is skipped, never reported
// as a challenge.
type Detector struct {
	driver    Driver
	selectors config.SelectorConfig
	logger    *zap.Logger
}

// NewDetector builds a Detector over a driver.
func NewDetector(driver Driver, selectors config.SelectorConfig, logger *zap.Logger) *Detector {
	return &Detector{
		driver:    driver,
		selectors: selectors,
		logger:    logger.Named("detector"),
	}
}

// Detect returns the first matching challenge, or nil when the page is
// clean. Priority: widgets before banners. A visible widget is actionable;
// a banner only ever means waiting, so when both are present the widget is
// the one worth reporting.
func (d *Detector) Detect(ctx context.Context) *Challenge {
	// 1. Widget families, structural probes.
	for _, probe := range widgetProbes {
		for _, sel := range probe.selectors {
			n, err := d.driver.Count(ctx, sel)
			if err != nil {
				d.logger.Debug("Widget probe failed, skipping",
					zap.String("selector", sel), zap.Error(err))
				continue
			}
			if n > 0 {
				ch := &Challenge{
					Kind:       ChallengeCaptchaWidget,
					Family:     probe.family,
					Message:    "captcha widget present",
					Marker:     sel,
					DetectedAt: time.Now(),
				}
				d.logChallenge(ch)
				return ch
			}
		}
	}

	// 2. Text probes over the visible page.
	body, err := d.driver.BodyText(ctx)
	if err != nil {
		d.logger.Debug("Body text probe failed, skipping", zap.Error(err))
		return nil
	}
	lower := strings.ToLower(body)

	if code := ssoErrorPattern.FindString(body); code != "" {
		ch := &Challenge{
			Kind:       ChallengeSSOError,
			Message:    "sso error code " + code,
			Marker:     code,
			DetectedAt: time.Now(),
		}
		d.logChallenge(ch)
		return ch
	}

	for _, kw := range d.selectors.CertMissingKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			ch := &Challenge{
				Kind:       ChallengeCertMissing,
				Message:    "certificate not found by sso",
				Marker:     kw,
				DetectedAt: time.Now(),
			}
			d.logChallenge(ch)
			return ch
		}
	}

	for _, kw := range d.selectors.RejectionKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			ch := &Challenge{
				Kind:       ChallengeCaptchaRejected,
				Message:    "captcha rejection banner",
				Marker:     kw,
				DetectedAt: time.Now(),
			}
			d.logChallenge(ch)
			return ch
		}
	}

	return nil
}

// markerPresent re-probes a previously detected challenge's trigger.
func (d *Detector) markerPresent(ctx context.Context, ch *Challenge) (bool, error) {
	switch ch.Kind {
	case ChallengeCaptchaWidget:
		n, err := d.driver.Count(ctx, ch.Marker)
		if err != nil {
			return false, err
		}
		return n > 0, nil
	case ChallengeSSOError:
		body, err := d.driver.BodyText(ctx)
		if err != nil {
			return false, err
		}
		return strings.Contains(body, ch.Marker), nil
	default:
		body, err := d.driver.BodyText(ctx)
		if err != nil {
			return false, err
		}
		return strings.Contains(strings.ToLower(body), strings.ToLower(ch.Marker)), nil
	}
}

func (d *Detector) logChallenge(ch *Challenge) {
	d.logger.Warn("Challenge detected",
		zap.Stringer("kind", ch.Kind),
		zap.String("family", ch.Family),
		zap.String("marker", ch.Marker),
		zap.String("message", ch.Message))
}
