// File: internal/navigator/auth_test.go
package navigator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dfalqueto/senafine/internal/behavior"
	"github.com/dfalqueto/senafine/internal/config"
)

const (
	testHomeURL   = "https://portalservicos.senatran.serpro.gov.br/#/home"
	testSSOURL    = "https://sso.acesso.gov.br/login?client_id=portal"
	testPortalURL = "https://portalservicos.senatran.serpro.gov.br/#/infracoes"
)

func newTestAuth(drv Driver, cfg *config.Config, solver Solver, dialog DialogAutomator) *Authenticator {
	log := zap.NewNop()
	sim := behavior.NewSimulator(cfg.Behavior, log)
	det := NewDetector(drv, cfg.Selectors, log)
	res := NewResolver(drv, det, solver, cfg.Portal, cfg.Timeouts, log)
	return NewAuthenticator(drv, det, res, sim, dialog, cfg, log)
}

func hasClick(clicks []string, selector string) bool {
	for _, c := range clicks {
		if c == selector {
			return true
		}
	}
	return false
}

func TestLoginColdSession(t *testing.T) {
	cfg := testConfig()
	drv := newFakeDriver()
	drv.allowClick[cfg.Selectors.LoginButton] = true
	drv.allowClick[cfg.Selectors.CertificateButton] = true

	certReads := 0
	drv.onURL = func(f *fakeDriver) {
		switch {
		case hasClick(f.clicks, cfg.Selectors.CertificateButton):
			// The certificate dialog takes a couple of polls to resolve.
			certReads++
			if certReads >= 2 {
				f.url = testPortalURL
			}
		case hasClick(f.clicks, cfg.Selectors.LoginButton):
			f.url = testSSOURL
		}
	}

	auth := newTestAuth(drv, cfg, nil, nil)
	require.NoError(t, auth.Login(context.Background()))

	assert.Equal(t, stateLoggedIn, auth.state)
	assert.True(t, hasClick(drv.clicks, cfg.Selectors.LoginButton))
	assert.True(t, hasClick(drv.clicks, cfg.Selectors.CertificateButton))
	// No markers configured on the fake, so verification passed via the
	// absent login control.
}

func TestLoginUsesTextFallbackWhenSelectorGone(t *testing.T) {
	cfg := testConfig()
	drv := newFakeDriver()
	// Structural selectors are stale; only the text fallbacks work.
	drv.allowClickText["Entrar com"] = true
	drv.allowClickText["Seu certificado digital"] = true

	certReads := 0
	drv.onURL = func(f *fakeDriver) {
		switch {
		case len(f.textClicks) >= 2:
			certReads++
			if certReads >= 2 {
				f.url = testPortalURL
			}
		case len(f.textClicks) >= 1:
			f.url = testSSOURL
		}
	}

	auth := newTestAuth(drv, cfg, nil, nil)
	require.NoError(t, auth.Login(context.Background()))
	assert.Contains(t, drv.textClicks, "Entrar com")
	assert.Contains(t, drv.textClicks, "Seu certificado digital")
}

func TestLoginCaptchaDuringCertificateWait(t *testing.T) {
	cfg := testConfig()
	drv := newFakeDriver()
	drv.allowClick[cfg.Selectors.LoginButton] = true
	drv.allowClick[cfg.Selectors.CertificateButton] = true

	solver := &fakeSolver{token: "tok-999"}
	drv.attrs[".g-recaptcha"] = map[string]string{"data-sitekey": "key-1"}
	drv.evaluate = func(js string, out any) error {
		if b, ok := out.(*bool); ok {
			// Token injection clears the widget.
			*b = true
			drv.counts[".g-recaptcha"] = 0
		}
		return nil
	}

	certReads := 0
	drv.onURL = func(f *fakeDriver) {
		switch {
		case hasClick(f.clicks, cfg.Selectors.CertificateButton):
			certReads++
			if certReads == 1 {
				// A widget challenge appears during the certificate wait.
				f.counts[".g-recaptcha"] = 1
			}
			if certReads >= 3 && f.counts[".g-recaptcha"] == 0 {
				f.url = testPortalURL
			}
		case hasClick(f.clicks, cfg.Selectors.LoginButton):
			f.url = testSSOURL
		}
	}

	auth := newTestAuth(drv, cfg, solver, nil)
	require.NoError(t, auth.Login(context.Background()))
	assert.Equal(t, 1, solver.calls)
	assert.Equal(t, stateLoggedIn, auth.state)
}

func TestLoginFailsWhenURLCorrectButControlStillPresent(t *testing.T) {
	cfg := testConfig()
	drv := newFakeDriver()
	drv.allowClick[cfg.Selectors.LoginButton] = true
	drv.allowClick[cfg.Selectors.CertificateButton] = true
	// The portal serves its anonymous shell: right host, login control
	// still rendered, no success marker.
	drv.counts[cfg.Selectors.LoginButton] = 1

	certReads := 0
	drv.onURL = func(f *fakeDriver) {
		switch {
		case hasClick(f.clicks, cfg.Selectors.CertificateButton):
			certReads++
			if certReads >= 2 {
				f.url = testPortalURL
			}
		case hasClick(f.clicks, cfg.Selectors.LoginButton):
			f.url = testSSOURL
		}
	}

	auth := newTestAuth(drv, cfg, nil, nil)
	err := auth.Login(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, stateFailed, auth.state)
}

func TestLoginFailsWhenAllSelectorsExhausted(t *testing.T) {
	cfg := testConfig()
	drv := newFakeDriver()
	// Nothing is clickable anywhere.

	auth := newTestAuth(drv, cfg, nil, nil)
	err := auth.Login(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestLoginCertInfoPageIsSuccessInProgress(t *testing.T) {
	cfg := testConfig()
	drv := newFakeDriver()
	drv.allowClick[cfg.Selectors.LoginButton] = true
	drv.allowClick[cfg.Selectors.CertificateButton] = true

	certReads := 0
	drv.onURL = func(f *fakeDriver) {
		switch {
		case hasClick(f.clicks, cfg.Selectors.CertificateButton):
			certReads++
			if certReads >= 5 {
				f.url = testPortalURL
			} else if certReads >= 2 {
				// The SSO routes through its certificate info page first.
				f.url = "https://acesso.gov.br/info/x509"
			}
		case hasClick(f.clicks, cfg.Selectors.LoginButton):
			f.url = testSSOURL
		}
	}

	auth := newTestAuth(drv, cfg, nil, nil)
	require.NoError(t, auth.Login(context.Background()))
	assert.Equal(t, stateLoggedIn, auth.state)
}

func TestAlreadyAuthenticatedShortCircuit(t *testing.T) {
	cfg := testConfig()
	drv := newFakeDriver()
	drv.counts[cfg.Selectors.SuccessMarkers[0]] = 1

	auth := newTestAuth(drv, cfg, nil, nil)
	assert.True(t, auth.AlreadyAuthenticated(context.Background()))
	assert.Equal(t, stateLoggedIn, auth.state)
	require.NotEmpty(t, drv.navigated)
	assert.Equal(t, cfg.Portal.VehicleListURL, drv.navigated[0])
}

func TestAlreadyAuthenticatedFalseWhenRedirectedToSSO(t *testing.T) {
	cfg := testConfig()
	drv := newFakeDriver()
	drv.onNavigate = func(f *fakeDriver, _ string) {
		f.url = testSSOURL
	}

	auth := newTestAuth(drv, cfg, nil, nil)
	assert.False(t, auth.AlreadyAuthenticated(context.Background()))
}

type failingDialog struct{ called bool }

func (d *failingDialog) ConfirmCertificate(context.Context) error {
	d.called = true
	return assert.AnError
}

func TestDialogAutomationFailureIsNonFatal(t *testing.T) {
	cfg := testConfig()
	drv := newFakeDriver()
	drv.allowClick[cfg.Selectors.LoginButton] = true
	drv.allowClick[cfg.Selectors.CertificateButton] = true

	certReads := 0
	drv.onURL = func(f *fakeDriver) {
		switch {
		case hasClick(f.clicks, cfg.Selectors.CertificateButton):
			certReads++
			if certReads >= 2 {
				f.url = testPortalURL
			}
		case hasClick(f.clicks, cfg.Selectors.LoginButton):
			f.url = testSSOURL
		}
	}

	dialog := &failingDialog{}
	auth := newTestAuth(drv, cfg, nil, dialog)
	require.NoError(t, auth.Login(context.Background()))
	assert.True(t, dialog.called)
}
