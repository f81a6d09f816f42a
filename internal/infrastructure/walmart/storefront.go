package walmart

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cartsync/backend/internal/domain"
	"github.com/cartsync/backend/internal/infrastructure/browser"
)

// Storefront opens a fresh tab per cycle and closes it afterwards.
type Storefront struct {
	browser     *browser.Manager
	diagnostics *browser.Screenshots
	config      Config
	rateLimiter *rate.Limiter
	logger      *zap.Logger

	mu      sync.Mutex
	session *Session
}

// NewStorefront creates the storefront. diagnostics may be nil.
func NewStorefront(b *browser.Manager, diagnostics *browser.Screenshots, config Config, logger *zap.Logger) *Storefront {
	config.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Storefront{
		browser:     b,
		diagnostics: diagnostics,
		config:      config,
		rateLimiter: rate.NewLimiter(rate.Every(config.SearchDelay), 1),
		logger:      logger.Named("walmart"),
	}
}

// Open returns the search and history capabilities of a new tab.
func (s *Storefront) Open(ctx context.Context) (domain.CatalogSearcher, domain.PurchaseHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		return s.session, s.session, nil
	}
	page, err := s.browser.NewPage(ctx)
	if err != nil {
		return nil, nil, err
	}
	if s.diagnostics != nil {
		s.diagnostics.Attach(page)
	}
	s.session = &Session{
		page:        page,
		config:      s.config,
		timeout:     s.browser.Timeout(),
		rateLimiter: s.rateLimiter,
		logger:      s.logger,
	}
	s.logger.Debug("storefront tab opened")
	return s.session, s.session, nil
}

// Close releases the tab. It is safe to call when nothing is open.
func (s *Storefront) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	if s.diagnostics != nil {
		s.diagnostics.Detach()
	}
	err := s.session.page.Close()
	s.session = nil
	s.logger.Debug("storefront tab closed")
	return err
}
