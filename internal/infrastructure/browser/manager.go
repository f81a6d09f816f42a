// Package browser manages the Chrome instance shared by the shopping list
// and storefront sessions: launch or remote connect via Rod, stealth pages,
// cookie persistence and failure screenshots.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// ErrNotStarted is returned when a page is requested before Start.
var ErrNotStarted = errors.New("browser: not started")

// Config configures the browser manager.
type Config struct {
	// Headless runs Chrome without a window. Default true in config.
	Headless bool

	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Timeout bounds a single navigation or element wait. Default: 30s.
	Timeout time.Duration
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Manager owns the Chrome process.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	logger  *zap.Logger
}

// NewManager creates a browser Manager. Call Start to launch Chrome.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, logger: logger.Named("browser")}
}

// Timeout is the per-operation page timeout.
func (m *Manager) Timeout() time.Duration { return m.cfg.Timeout }

// Start launches Chrome (or connects to a remote instance).
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		return nil
	}

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		m.logger.Info("connecting to remote chrome", zap.String("url", wsURL))
	} else {
		l := launcher.New().
			Headless(m.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled").
			Set("window-size", "1280,720")

		u, err := l.Context(ctx).Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		m.logger.Info("launched local chrome", zap.String("url", wsURL), zap.Bool("headless", m.cfg.Headless))
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		m.cleanupLocked()
		return fmt.Errorf("browser: connect: %w", err)
	}
	m.browser = b
	return nil
}

// Browser returns the current Rod browser handle, nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// NewPage opens a blank stealth tab.
func (m *Manager) NewPage(ctx context.Context) (*rod.Page, error) {
	b := m.Browser()
	if b == nil {
		return nil, ErrNotStarted
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	return page, nil
}

// Open creates a stealth tab and navigates it to pageURL.
func (m *Manager) Open(ctx context.Context, pageURL string) (*rod.Page, error) {
	page, err := m.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	if err := Navigate(ctx, page, pageURL, m.cfg.Timeout); err != nil {
		_ = page.Close()
		return nil, err
	}
	return page, nil
}

// Close shuts down Chrome.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupLocked()
}

func (m *Manager) cleanupLocked() error {
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	if err != nil {
		return fmt.Errorf("browser: close: %w", err)
	}
	return nil
}
