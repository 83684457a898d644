// File: internal/navigator/fake_driver_test.go
package navigator

import (
	"context"
	"errors"
	"time"

	"github.com/dfalqueto/senafine/internal/config"
)

var errNotFound = errors.New("element not found")

// fakeDriver is a scriptable Driver. Tests mutate its state directly or via
// the hooks; every read consults the maps so behavior can change mid-test.
type fakeDriver struct {
	url  string
	body string

	counts   map[string]int
	countErr map[string]error
	texts    map[string]string
	attrs    map[string]map[string]string

	nthText      map[string][]string
	nthClickable map[string][]bool

	allowClick     map[string]bool
	allowClickText map[string]bool
	waitVisibleErr map[string]error

	evaluate func(js string, out any) error

	clicks     []string
	textClicks []string
	nthClicks  []int
	navigated  []string
	backCalls  int
	backErr    error

	// onURL runs before every CurrentURL read; tests use it to advance
	// scripted time.
	onURL func(f *fakeDriver)
	// onClickNth runs after a successful ClickNth.
	onClickNth func(f *fakeDriver, index int)
	// onClick runs after a successful Click.
	onClick func(f *fakeDriver, selector string)
	// onNavigate runs after a successful Navigate.
	onNavigate func(f *fakeDriver, url string)
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		counts:         map[string]int{},
		countErr:       map[string]error{},
		texts:          map[string]string{},
		attrs:          map[string]map[string]string{},
		nthText:        map[string][]string{},
		nthClickable:   map[string][]bool{},
		allowClick:     map[string]bool{},
		allowClickText: map[string]bool{},
		waitVisibleErr: map[string]error{},
	}
}

func (f *fakeDriver) Navigate(_ context.Context, url string) error {
	f.navigated = append(f.navigated, url)
	f.url = url
	if f.onNavigate != nil {
		f.onNavigate(f, url)
	}
	return nil
}

func (f *fakeDriver) WaitReady(context.Context) error { return nil }

func (f *fakeDriver) CurrentURL(context.Context) (string, error) {
	if f.onURL != nil {
		f.onURL(f)
	}
	return f.url, nil
}

func (f *fakeDriver) Count(_ context.Context, selector string) (int, error) {
	if err, ok := f.countErr[selector]; ok {
		return 0, err
	}
	return f.counts[selector], nil
}

func (f *fakeDriver) Text(_ context.Context, selector string) (string, error) {
	if t, ok := f.texts[selector]; ok {
		return t, nil
	}
	return "", errNotFound
}

func (f *fakeDriver) BodyText(context.Context) (string, error) {
	return f.body, nil
}

func (f *fakeDriver) Attribute(_ context.Context, selector, name string) (string, bool, error) {
	attrs, ok := f.attrs[selector]
	if !ok {
		return "", false, nil
	}
	v, present := attrs[name]
	return v, present, nil
}

func (f *fakeDriver) Click(_ context.Context, selector string) error {
	if !f.allowClick[selector] {
		return errNotFound
	}
	f.clicks = append(f.clicks, selector)
	if f.onClick != nil {
		f.onClick(f, selector)
	}
	return nil
}

func (f *fakeDriver) ClickByText(_ context.Context, text string) error {
	if !f.allowClickText[text] {
		return errNotFound
	}
	f.textClicks = append(f.textClicks, text)
	return nil
}

func (f *fakeDriver) ClickNth(_ context.Context, selector string, index int) error {
	if index >= len(f.nthText[selector]) {
		return errNotFound
	}
	f.nthClicks = append(f.nthClicks, index)
	if f.onClickNth != nil {
		f.onClickNth(f, index)
	}
	return nil
}

func (f *fakeDriver) NthText(_ context.Context, selector string, index int) (string, error) {
	items := f.nthText[selector]
	if index >= len(items) {
		return "", errNotFound
	}
	return items[index], nil
}

func (f *fakeDriver) NthClickable(_ context.Context, selector string, index int) (bool, error) {
	flags := f.nthClickable[selector]
	if index >= len(flags) {
		return false, errNotFound
	}
	return flags[index], nil
}

func (f *fakeDriver) Evaluate(_ context.Context, js string, out any) error {
	if f.evaluate != nil {
		return f.evaluate(js, out)
	}
	return nil
}

func (f *fakeDriver) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	return f.waitVisibleErr[selector]
}

func (f *fakeDriver) NavigateBack(context.Context) error {
	f.backCalls++
	return f.backErr
}

func (f *fakeDriver) Reload(context.Context) error { return nil }

// testConfig returns defaults with every wait shrunk to test scale.
func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Timeouts.PollTick = 5 * time.Millisecond
	cfg.Timeouts.ChallengeTick = 5 * time.Millisecond
	cfg.Timeouts.Navigation = 200 * time.Millisecond
	cfg.Timeouts.SSORedirect = 200 * time.Millisecond
	cfg.Timeouts.CertificateSelection = 300 * time.Millisecond
	cfg.Timeouts.Authentication = 500 * time.Millisecond
	cfg.Timeouts.ChallengeResolution = 100 * time.Millisecond
	cfg.Timeouts.DetailWait = 50 * time.Millisecond
	cfg.Timeouts.SettleDelay = 5 * time.Millisecond
	cfg.Behavior.Enabled = false
	cfg.Walker.PageInterval = time.Millisecond
	return cfg
}
