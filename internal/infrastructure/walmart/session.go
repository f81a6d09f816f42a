package walmart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cartsync/backend/internal/domain"
	"github.com/cartsync/backend/internal/infrastructure/browser"
)

// Session is one open storefront tab. It serves both the catalog search and
// the purchase history for the length of a cycle.
type Session struct {
	page        *rod.Page
	config      Config
	timeout     time.Duration
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// Search loads the results page of query and returns its product cards.
func (s *Session) Search(ctx context.Context, query string) ([]domain.CatalogCandidate, error) {
	if err := s.visit(ctx, SearchURL(s.config.BaseURL, query)); err != nil {
		return nil, err
	}
	// Walmart sometimes bounces a search to the departments page.
	if browser.URLContainsAny(browser.CurrentURL(s.page), "/all-departments") {
		s.logger.Warn("search redirected to departments, retrying", zap.String("query", query))
		if err := s.visit(ctx, SearchURL(s.config.BaseURL, query)); err != nil {
			return nil, err
		}
		if browser.URLContainsAny(browser.CurrentURL(s.page), "/all-departments") {
			return nil, fmt.Errorf("%w: search for %q redirected to departments", domain.ErrTransient, query)
		}
	}

	raw, err := browser.EvalString(ctx, s.page, searchCardsJS, s.config.MaxResults)
	if err != nil {
		return nil, err
	}
	cards, err := decodeCards(raw)
	if err != nil {
		return nil, err
	}
	candidates := MapSearchResults(cards, s.config.BaseURL)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %q", domain.ErrNoMatch, query)
	}

	s.logger.Info("search results",
		zap.String("query", query),
		zap.Int("count", len(candidates)),
		zap.String("first", candidates[0].DisplayName))
	return candidates, nil
}

// AddToCart opens the product page and adds quantity units.
func (s *Session) AddToCart(ctx context.Context, c domain.CatalogCandidate, quantity int) error {
	target := c.NavigationHandle
	if target == "" {
		target = ProductURL(s.config.BaseURL, c.ProductID)
	}
	if err := s.visit(ctx, target); err != nil {
		return err
	}

	clicked, err := browser.ClickFirst(ctx, s.page, addButtonSelectors, addButtonTexts...)
	if err != nil {
		return err
	}
	if !clicked {
		if gone, _ := browser.Visible(ctx, s.page, []string{"body"}, unavailableTexts...); gone {
			return fmt.Errorf("%w: %s is unavailable", domain.ErrAddRejected, c.DisplayName)
		}
		return fmt.Errorf("%w: no add to cart button for %s", domain.ErrAddRejected, c.DisplayName)
	}
	if err := browser.Pause(ctx, s.config.SettleDelay); err != nil {
		return err
	}

	for i := 1; i < quantity; i++ {
		ok, err := browser.ClickFirst(ctx, s.page, increaseSelectors)
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Warn("could not raise quantity",
				zap.String("product", c.DisplayName),
				zap.Int("wanted", quantity),
				zap.Int("reached", i))
			break
		}
		if err := browser.Pause(ctx, time.Second); err != nil {
			return err
		}
	}

	return s.verifyAdded(ctx, c)
}

// ScanAll reads every My Items page up to the configured page limit.
func (s *Session) ScanAll(ctx context.Context) ([]domain.CatalogCandidate, error) {
	var all []domain.CatalogCandidate
	seen := make(map[string]bool)

	for page := 1; page <= s.config.HistoryMaxPages; page++ {
		if err := s.visit(ctx, MyItemsURL(s.config.BaseURL, page)); err != nil {
			return nil, err
		}
		if !browser.URLContainsAny(browser.CurrentURL(s.page), "my-items") {
			return nil, fmt.Errorf("%w: redirected away from my items", domain.ErrSessionExpired)
		}

		raw, err := browser.EvalString(ctx, s.page, historyTilesJS)
		if err != nil {
			return nil, err
		}
		cards, err := decodeCards(raw)
		if err != nil {
			return nil, err
		}
		tiles := MapHistoryTiles(cards, s.config.BaseURL, page)
		if len(tiles) == 0 {
			break
		}
		fresh := 0
		for _, t := range tiles {
			if seen[t.ProductID] {
				continue
			}
			seen[t.ProductID] = true
			t.Rank = len(all)
			all = append(all, t)
			fresh++
		}
		s.logger.Debug("my items page", zap.Int("page", page), zap.Int("tiles", len(tiles)))
		// A page that only repeats earlier tiles means the listing ended.
		if fresh == 0 {
			break
		}
	}

	s.logger.Info("purchase history scanned", zap.Int("entries", len(all)))
	return all, nil
}

// AddFromPage adds an item straight from its My Items tile, falling back to
// the product page when the tile is gone.
func (s *Session) AddFromPage(ctx context.Context, c domain.CatalogCandidate, quantity int) error {
	listing := c.NavigationHandle
	if listing == "" {
		listing = MyItemsURL(s.config.BaseURL, 1)
	}
	if err := s.visit(ctx, listing); err != nil {
		return err
	}

	state, err := browser.EvalString(ctx, s.page, tileAddJS, c.ProductID)
	if err != nil {
		return err
	}
	switch state {
	case "missing", "no-button":
		s.logger.Info("tile not usable, using product page",
			zap.String("product", c.DisplayName),
			zap.String("state", state))
		c.NavigationHandle = ProductURL(s.config.BaseURL, c.ProductID)
		return s.AddToCart(ctx, c, quantity)
	case "in-cart":
		s.logger.Info("already in cart", zap.String("product", c.DisplayName))
	}
	if err := browser.Pause(ctx, s.config.SettleDelay); err != nil {
		return err
	}
	if state == "clicked" {
		if err := s.verifyTileAdded(ctx, c); err != nil {
			return err
		}
	}

	for i := 1; i < quantity; i++ {
		ok, err := browser.EvalBool(ctx, s.page, tileIncreaseJS, c.ProductID)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := browser.Pause(ctx, time.Second); err != nil {
			return err
		}
	}
	return nil
}

// verifyTileAdded confirms a tile click through the tile's quantity
// stepper or the add-to-cart toast.
func (s *Session) verifyTileAdded(ctx context.Context, c domain.CatalogCandidate) error {
	status, err := browser.EvalString(ctx, s.page, tileStatusJS, c.ProductID)
	if err != nil {
		return err
	}
	toast, err := browser.Visible(ctx, s.page, addedToastSelectors)
	if err != nil {
		return err
	}
	_, _ = browser.ClickFirst(ctx, s.page, closeModalSelectors)
	if err := tileAddConfirmed(c, status, toast); err != nil {
		return err
	}
	s.logger.Info("added to cart from my items", zap.String("product", c.DisplayName), zap.String("id", c.ProductID))
	return nil
}

// tileAddConfirmed interprets the tile status read after a click.
func tileAddConfirmed(c domain.CatalogCandidate, status string, toast bool) error {
	if status == "in-cart" || toast {
		return nil
	}
	return fmt.Errorf("%w: %s not confirmed in cart after tile click (tile %s)", domain.ErrAddRejected, c.DisplayName, status)
}

func (s *Session) verifyAdded(ctx context.Context, c domain.CatalogCandidate) error {
	ok, err := browser.Visible(ctx, s.page, addedSelectors)
	if err != nil {
		return err
	}
	_, _ = browser.ClickFirst(ctx, s.page, closeModalSelectors)
	if !ok {
		return fmt.Errorf("%w: %s not confirmed in cart", domain.ErrAddRejected, c.DisplayName)
	}
	s.logger.Info("added to cart", zap.String("product", c.DisplayName), zap.String("id", c.ProductID))
	return nil
}

// visit paces and performs a navigation, then checks for a lost session or
// a bot challenge.
func (s *Session) visit(ctx context.Context, pageURL string) error {
	if err := s.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if err := browser.Navigate(ctx, s.page, pageURL, s.timeout); err != nil {
		return err
	}
	if err := browser.Pause(ctx, s.config.SettleDelay); err != nil {
		return err
	}
	if browser.URLContainsAny(browser.CurrentURL(s.page), loginURLMarkers...) {
		return fmt.Errorf("%w: walmart redirected to login", domain.ErrSessionExpired)
	}
	robot, err := browser.EvalBool(ctx, s.page, robotCheckJS)
	if err != nil {
		return err
	}
	if robot {
		return fmt.Errorf("%w: bot challenge on %s", domain.ErrTransient, pageURL)
	}
	return nil
}
