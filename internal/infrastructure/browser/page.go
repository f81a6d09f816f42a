package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"github.com/cartsync/backend/internal/domain"
	"github.com/cartsync/backend/internal/wait"
)

// Navigate loads pageURL and waits for the load event. Navigation failures
// are transient.
func Navigate(ctx context.Context, page *rod.Page, pageURL string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := page.Context(navCtx)
	if err := p.Navigate(pageURL); err != nil {
		return fmt.Errorf("%w: navigate %s: %v", domain.ErrTransient, pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("%w: wait load %s: %v", domain.ErrTransient, pageURL, err)
	}
	return nil
}

// Reload reloads the page and waits for the load event.
func Reload(ctx context.Context, page *rod.Page, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := page.Context(navCtx)
	if err := p.Reload(); err != nil {
		return fmt.Errorf("%w: reload: %v", domain.ErrTransient, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("%w: wait load after reload: %v", domain.ErrTransient, err)
	}
	return nil
}

// CurrentURL returns the page URL, empty when the target is gone.
func CurrentURL(page *rod.Page) string {
	info, err := page.Info()
	if err != nil || info == nil {
		return ""
	}
	return info.URL
}

// URLContainsAny reports whether pageURL contains one of the markers.
func URLContainsAny(pageURL string, markers ...string) bool {
	lower := strings.ToLower(pageURL)
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// EvalString runs a JS function returning a string.
func EvalString(ctx context.Context, page *rod.Page, js string, args ...any) (string, error) {
	res, err := page.Context(ctx).Eval(js, args...)
	if err != nil {
		return "", fmt.Errorf("%w: eval: %v", domain.ErrTransient, err)
	}
	return res.Value.Str(), nil
}

// EvalBool runs a JS function returning a boolean.
func EvalBool(ctx context.Context, page *rod.Page, js string, args ...any) (bool, error) {
	res, err := page.Context(ctx).Eval(js, args...)
	if err != nil {
		return false, fmt.Errorf("%w: eval: %v", domain.ErrTransient, err)
	}
	return res.Value.Bool(), nil
}

// clickJS clicks the first visible element matching one of the selectors
// whose text (or aria-label) contains one of the texts. An empty text list
// matches any element.
const clickJS = `(selectors, texts) => {
	const visible = el => !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);
	for (const sel of selectors) {
		for (const el of document.querySelectorAll(sel)) {
			if (!visible(el)) continue;
			const label = ((el.innerText || el.textContent || '') + ' ' + (el.getAttribute('aria-label') || '')).trim().toLowerCase();
			if (texts.length && !texts.some(t => label.includes(t.toLowerCase()))) continue;
			el.click();
			return true;
		}
	}
	return false;
}`

// ClickFirst clicks the first visible match and reports whether one was
// found.
func ClickFirst(ctx context.Context, page *rod.Page, selectors []string, texts ...string) (bool, error) {
	if texts == nil {
		texts = []string{}
	}
	return EvalBool(ctx, page, clickJS, selectors, texts)
}

// visibleJS reports whether any element matching the selectors is visible,
// optionally containing one of the texts.
const visibleJS = `(selectors, texts) => {
	const visible = el => !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);
	for (const sel of selectors) {
		for (const el of document.querySelectorAll(sel)) {
			if (!visible(el)) continue;
			const label = (el.innerText || el.textContent || '').toLowerCase();
			if (texts.length && !texts.some(t => label.includes(t.toLowerCase()))) continue;
			return true;
		}
	}
	return false;
}`

// Visible reports whether a matching element is on screen.
func Visible(ctx context.Context, page *rod.Page, selectors []string, texts ...string) (bool, error) {
	if texts == nil {
		texts = []string{}
	}
	return EvalBool(ctx, page, visibleJS, selectors, texts)
}

// Fill types value into the first element matching selector, waiting up to
// timeout for it to appear.
func Fill(ctx context.Context, page *rod.Page, selector, value string, timeout time.Duration) error {
	el, err := page.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		return fmt.Errorf("%w: find %s: %v", domain.ErrTransient, selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("%w: select %s: %v", domain.ErrTransient, selector, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("%w: input %s: %v", domain.ErrTransient, selector, err)
	}
	return nil
}

// Pause waits d or until ctx is done. Pages need a moment after clicks for
// their scripts to settle.
func Pause(ctx context.Context, d time.Duration) error {
	return wait.Sleep(ctx, d)
}
