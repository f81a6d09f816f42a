package amazon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"github.com/cartsync/backend/internal/domain"
	"github.com/cartsync/backend/internal/infrastructure/browser"
)

// Client is the shopping list adapter. It keeps one tab open on the list
// page for the life of the process; polling reads that tab without
// navigating.
type Client struct {
	browser *browser.Manager
	config  Config
	logger  *zap.Logger

	mu   sync.Mutex
	page *rod.Page
}

// NewClient creates the shopping list client.
func NewClient(b *browser.Manager, config Config, logger *zap.Logger) *Client {
	config.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		browser: b,
		config:  config,
		logger:  logger.Named("amazon"),
	}
}

// ListItems scrapes the current list.
func (c *Client) ListItems(ctx context.Context) ([]domain.RawItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	page, err := c.listPage(ctx, true)
	if err != nil {
		return nil, err
	}
	rows, err := c.rowNames(ctx, page)
	if err != nil {
		return nil, err
	}
	items := itemsFromRows(rows)
	c.logger.Info("scraped shopping list", zap.Int("rows", len(rows)), zap.Int("items", len(items)))
	return items, nil
}

// ListedIDs re-reads the rows of the already loaded list page. Repeated
// names collapse into one identity, matching ListItems.
func (c *Client) ListedIDs(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	page, err := c.listPage(ctx, false)
	if err != nil {
		return nil, err
	}
	if err := c.checkSession(page); err != nil {
		return nil, err
	}
	rows, err := c.rowNames(ctx, page)
	if err != nil {
		return nil, err
	}
	return identitiesFromRows(rows), nil
}

// Reload does a full load of the list page.
func (c *Client) Reload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	page, err := c.listPage(ctx, false)
	if err != nil {
		return err
	}
	if err := browser.Reload(ctx, page, c.browser.Timeout()); err != nil {
		return err
	}
	if err := c.checkSession(page); err != nil {
		return err
	}
	return browser.Pause(ctx, c.config.SettleDelay)
}

// Clear deletes every row whose identity is in ids, confirming dialogs as
// they appear. Rows of other items are left alone.
func (c *Client) Clear(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	targets := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		targets[domain.NormalizeName(id)] = struct{}{}
	}

	page, err := c.listPage(ctx, true)
	if err != nil {
		return err
	}

	// Rows shift after each delete, so re-read them every round.
	maxClicks := 3 * len(ids)
	for clicks := 0; clicks < maxClicks; clicks++ {
		rows, err := c.rowNames(ctx, page)
		if err != nil {
			return err
		}
		idx := nextTarget(rows, targets)
		if idx < 0 {
			break
		}
		res, err := page.Context(ctx).Eval(deleteAtJS, idx)
		if err != nil {
			return fmt.Errorf("%w: delete row %q: %v", domain.ErrTransient, rows[idx], err)
		}
		if !res.Value.Bool() {
			continue
		}
		if err := browser.Pause(ctx, time.Second); err != nil {
			return err
		}
		if ok, _ := browser.ClickFirst(ctx, page, confirmSelectors, confirmTexts...); ok {
			c.logger.Debug("confirmed delete", zap.String("item", rows[idx]))
		}
		if err := browser.Pause(ctx, c.config.SettleDelay); err != nil {
			return err
		}
	}

	rows, err := c.rowNames(ctx, page)
	if err != nil {
		return err
	}
	if left := remaining(rows, targets); len(left) > 0 {
		return fmt.Errorf("%w: %d items still on the list: %v", domain.ErrTransient, len(left), left)
	}
	c.logger.Info("cleared shopping list items", zap.Int("count", len(ids)))
	return nil
}

// Close releases the list tab.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page == nil {
		return nil
	}
	err := c.page.Close()
	c.page = nil
	return err
}

// listPage returns the list tab, opening it on first use. With navigate
// set the tab is moved back to the list when it wandered elsewhere.
func (c *Client) listPage(ctx context.Context, navigate bool) (*rod.Page, error) {
	if c.page == nil {
		page, err := c.browser.Open(ctx, c.config.ListURL)
		if err != nil {
			return nil, err
		}
		c.page = page
		if err := browser.Pause(ctx, c.config.SettleDelay); err != nil {
			return nil, err
		}
		return page, c.checkSession(page)
	}
	if navigate && !browser.URLContainsAny(browser.CurrentURL(c.page), "alexa-shopping-list", "alexaShoppingList") {
		if err := browser.Navigate(ctx, c.page, c.config.ListURL, c.browser.Timeout()); err != nil {
			return nil, err
		}
		if err := browser.Pause(ctx, c.config.SettleDelay); err != nil {
			return nil, err
		}
	}
	return c.page, c.checkSession(c.page)
}

func (c *Client) rowNames(ctx context.Context, page *rod.Page) ([]string, error) {
	raw, err := browser.EvalString(ctx, page, rowNamesJS)
	if err != nil {
		return nil, err
	}
	return decodeRowNames(raw)
}

// checkSession reports a sign-in redirect as a lost session.
func (c *Client) checkSession(page *rod.Page) error {
	if browser.URLContainsAny(browser.CurrentURL(page), signinURLMarkers...) {
		return fmt.Errorf("%w: amazon redirected to sign-in", domain.ErrSessionExpired)
	}
	return nil
}
