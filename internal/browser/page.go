// File: internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dfalqueto/senafine/internal/config"
)

// Page is a single browser tab. It exposes the capability surface the
// navigator consumes: navigation with a load-state ladder, element queries
// by CSS or XPath, script evaluation, and history traversal.
type Page struct {
	id       string
	ctx      context.Context
	logger   *zap.Logger
	timeouts config.TimeoutConfig
	onClose  func()
}

func newPage(ctx context.Context, logger *zap.Logger, timeouts config.TimeoutConfig) *Page {
	id := uuid.NewString()
	return &Page{
		id:       id,
		ctx:      ctx,
		logger:   logger.Named("page").With(zap.String("page_id", id)),
		timeouts: timeouts,
	}
}

// ID returns the page's session identifier.
func (p *Page) ID() string { return p.id }

// Close releases the tab. Safe to call once.
func (p *Page) Close() {
	if p.onClose != nil {
		p.onClose()
		p.onClose = nil
	}
}

// opContext derives a bounded context combining the tab lifetime, the
// caller's context and a timeout.
func (p *Page) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	combined, combinedCancel := CombineContext(p.ctx, ctx)
	opCtx, opCancel := context.WithTimeout(combined, timeout)
	return opCtx, func() {
		opCancel()
		combinedCancel()
	}
}

// Navigate loads a URL, accepting decreasing-strictness completion signals:
// the full load event first, then a readyState probe, then bare navigation.
// It only fails when even the bare navigation cannot be confirmed.
func (p *Page) Navigate(ctx context.Context, url string) error {
	start := time.Now()

	navCtx, cancel := p.opContext(ctx, p.timeouts.Navigation)
	err := chromedp.Run(navCtx, chromedp.Navigate(url))
	cancel()
	if err == nil {
		p.logger.Debug("Navigation complete (load event)",
			zap.String("url", url), zap.Duration("took", time.Since(start)))
		return nil
	}

	p.logger.Warn("Load event wait failed, trying readyState probe",
		zap.String("url", url), zap.Error(err))

	// The load event never fired but the document may still be usable.
	probeCtx, probeCancel := p.opContext(ctx, 10*time.Second)
	var readyState string
	probeErr := chromedp.Run(probeCtx,
		chromedp.Evaluate(`document.readyState`, &readyState))
	probeCancel()
	if probeErr == nil && (readyState == "interactive" || readyState == "complete") {
		p.logger.Debug("Navigation accepted via readyState",
			zap.String("url", url), zap.String("ready_state", readyState))
		return nil
	}

	// Last rung: fire a bare navigation and verify the location moved.
	bareCtx, bareCancel := p.opContext(ctx, 15*time.Second)
	defer bareCancel()
	bareErr := chromedp.Run(bareCtx, chromedp.ActionFunc(func(c context.Context) error {
		_, _, _, _, navErr := cdppage.Navigate(url).Do(c)
		return navErr
	}))
	if bareErr != nil {
		return fmt.Errorf("navigation to %s failed at every strictness level: %w", url, err)
	}
	time.Sleep(p.timeouts.SettleDelay)

	var loc string
	locCtx, locCancel := p.opContext(ctx, 5*time.Second)
	defer locCancel()
	if err := chromedp.Run(locCtx, chromedp.Location(&loc)); err != nil || loc == "" || loc == "about:blank" {
		return fmt.Errorf("navigation to %s could not be confirmed: %w", url, err)
	}
	p.logger.Debug("Navigation accepted via bare location check", zap.String("url", loc))
	return nil
}

// WaitReady leniently waits for the document to leave the "loading" state
// after a click-driven transition. It never fails on timeout, only on
// context cancellation; dynamic pages are often usable before any load
// signal fires.
func (p *Page) WaitReady(ctx context.Context) error {
	deadline := time.Now().Add(p.timeouts.SettleDelay)
	for {
		var readyState string
		probeCtx, cancel := p.opContext(ctx, 2*time.Second)
		err := chromedp.Run(probeCtx, chromedp.Evaluate(`document.readyState`, &readyState))
		cancel()
		if err == nil && readyState != "loading" {
			return nil
		}
		if time.Now().After(deadline) {
			p.logger.Debug("Ready wait expired, continuing anyway")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// CurrentURL returns the page's current location.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	opCtx, cancel := p.opContext(ctx, 10*time.Second)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read current url: %w", err)
	}
	return loc, nil
}

func isXPath(selector string) bool {
	return strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(")
}

func queryOption(selector string) chromedp.QueryOption {
	if isXPath(selector) {
		return chromedp.BySearch
	}
	return chromedp.ByQueryAll
}

// Count returns the number of elements matching a CSS or XPath selector.
func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	var nodes []*cdp.Node
	opCtx, cancel := p.opContext(ctx, 10*time.Second)
	defer cancel()
	err := chromedp.Run(opCtx,
		chromedp.Nodes(selector, &nodes, queryOption(selector), chromedp.AtLeast(0)))
	if err != nil {
		return 0, fmt.Errorf("failed to count %q: %w", selector, err)
	}
	return len(nodes), nil
}

// Text returns the visible text of the first element matching the selector.
func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	var out string
	opCtx, cancel := p.opContext(ctx, 10*time.Second)
	defer cancel()
	err := chromedp.Run(opCtx,
		chromedp.Text(selector, &out, queryOption(selector), chromedp.NodeReady))
	if err != nil {
		return "", fmt.Errorf("failed to read text of %q: %w", selector, err)
	}
	return strings.TrimSpace(out), nil
}

// BodyText returns the full visible text of the page.
func (p *Page) BodyText(ctx context.Context) (string, error) {
	var out string
	opCtx, cancel := p.opContext(ctx, 10*time.Second)
	defer cancel()
	err := chromedp.Run(opCtx,
		chromedp.Evaluate(`document.body ? document.body.innerText : ''`, &out))
	if err != nil {
		return "", fmt.Errorf("failed to read body text: %w", err)
	}
	return out, nil
}

// Attribute reads an attribute from the first matching element. The second
// return reports whether the attribute exists.
func (p *Page) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	var value string
	var ok bool
	opCtx, cancel := p.opContext(ctx, 10*time.Second)
	defer cancel()
	err := chromedp.Run(opCtx,
		chromedp.AttributeValue(selector, name, &value, &ok, queryOption(selector), chromedp.NodeReady))
	if err != nil {
		return "", false, fmt.Errorf("failed to read attribute %q of %q: %w", name, selector, err)
	}
	return value, ok, nil
}

// Click clicks the first visible element matching the selector.
func (p *Page) Click(ctx context.Context, selector string) error {
	opCtx, cancel := p.opContext(ctx, 15*time.Second)
	defer cancel()
	err := chromedp.Run(opCtx,
		chromedp.Click(selector, queryOption(selector), chromedp.NodeVisible))
	if err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, err)
	}
	return nil
}

// ClickByText clicks the first button-like element whose text contains the
// given fragment. Used as the fallback when a structural selector is gone.
func (p *Page) ClickByText(ctx context.Context, text string) error {
	xpath := fmt.Sprintf(
		`//*[self::button or self::a or @role='button'][contains(normalize-space(.), %s)]`,
		xpathLiteral(text))
	opCtx, cancel := p.opContext(ctx, 15*time.Second)
	defer cancel()
	err := chromedp.Run(opCtx,
		chromedp.Click(xpath, chromedp.BySearch, chromedp.NodeVisible))
	if err != nil {
		return fmt.Errorf("failed to click element with text %q: %w", text, err)
	}
	return nil
}

// xpathLiteral quotes a string for embedding in an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}

// nthElementJS resolves the i-th match of a CSS or XPath selector in page JS.
func nthElementJS(selector string, index int) string {
	if isXPath(selector) {
		return fmt.Sprintf(
			`document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotItem(%d)`,
			strconv.Quote(selector), index)
	}
	return fmt.Sprintf(`document.querySelectorAll(%s)[%d]`, strconv.Quote(selector), index)
}

// NthText returns the text of the i-th element matching the selector.
func (p *Page) NthText(ctx context.Context, selector string, index int) (string, error) {
	js := fmt.Sprintf(`(() => { const el = %s; return el ? el.innerText : null; })()`,
		nthElementJS(selector, index))
	var out *string
	opCtx, cancel := p.opContext(ctx, 10*time.Second)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.Evaluate(js, &out)); err != nil {
		return "", fmt.Errorf("failed to read text of %q[%d]: %w", selector, index, err)
	}
	if out == nil {
		return "", fmt.Errorf("element %q[%d] not found", selector, index)
	}
	return strings.TrimSpace(*out), nil
}

// NthClickable reports whether the i-th matching element carries a click
// affordance (computed pointer cursor or an onclick handler).
func (p *Page) NthClickable(ctx context.Context, selector string, index int) (bool, error) {
	js := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return false;
		const style = window.getComputedStyle(el);
		return style.cursor === 'pointer' || el.onclick !== null || el.hasAttribute('ng-click');
	})()`, nthElementJS(selector, index))
	var clickable bool
	opCtx, cancel := p.opContext(ctx, 10*time.Second)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.Evaluate(js, &clickable)); err != nil {
		return false, fmt.Errorf("failed to probe %q[%d]: %w", selector, index, err)
	}
	return clickable, nil
}

// ClickNth clicks the i-th matching element via page JS. Angular list cards
// respond to the synthetic click where a CDP mouse event can land on an
// overlay instead.
func (p *Page) ClickNth(ctx context.Context, selector string, index int) error {
	js := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return false;
		el.scrollIntoView({block: 'center'});
		el.click();
		return true;
	})()`, nthElementJS(selector, index))
	var clicked bool
	opCtx, cancel := p.opContext(ctx, 15*time.Second)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.Evaluate(js, &clicked)); err != nil {
		return fmt.Errorf("failed to click %q[%d]: %w", selector, index, err)
	}
	if !clicked {
		return fmt.Errorf("element %q[%d] not found", selector, index)
	}
	return nil
}

// Evaluate runs a script in the page and optionally unmarshals its result.
func (p *Page) Evaluate(ctx context.Context, js string, out any) error {
	opCtx, cancel := p.opContext(ctx, 15*time.Second)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.Evaluate(js, out)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// WaitVisible blocks until the selector is visible or the timeout elapses.
func (p *Page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	opCtx, cancel := p.opContext(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(opCtx,
		chromedp.WaitVisible(selector, queryOption(selector))); err != nil {
		return fmt.Errorf("element %q not visible within %s: %w", selector, timeout, err)
	}
	return nil
}

// NavigateBack goes one step back in the tab history.
func (p *Page) NavigateBack(ctx context.Context) error {
	opCtx, cancel := p.opContext(ctx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.NavigateBack()); err != nil {
		return fmt.Errorf("back navigation failed: %w", err)
	}
	return nil
}

// Reload refreshes the page.
func (p *Page) Reload(ctx context.Context) error {
	opCtx, cancel := p.opContext(ctx, p.timeouts.Navigation)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	return nil
}

// Cookies returns the cookies visible to the current page.
func (p *Page) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	opCtx, cancel := p.opContext(ctx, 10*time.Second)
	defer cancel()
	err := chromedp.Run(opCtx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return cookies, nil
}
