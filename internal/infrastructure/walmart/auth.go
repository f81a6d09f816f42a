package walmart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"github.com/cartsync/backend/internal/domain"
	"github.com/cartsync/backend/internal/infrastructure/browser"
)

var cookieDomains = []string{"walmart.com"}

// Authenticator keeps the Walmart account session: restored cookies when
// they still open the account page, the login form otherwise.
type Authenticator struct {
	browser *browser.Manager
	jar     *browser.CookieJar
	config  Config
	logger  *zap.Logger
}

// NewAuthenticator creates the storefront session manager.
func NewAuthenticator(b *browser.Manager, jar *browser.CookieJar, config Config, logger *zap.Logger) *Authenticator {
	config.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		browser: b,
		jar:     jar,
		config:  config,
		logger:  logger.Named("walmart_auth"),
	}
}

// Service names the storefront service.
func (a *Authenticator) Service() domain.Service { return domain.ServiceStorefront }

// Authenticate validates or re-creates the session in a throwaway tab.
func (a *Authenticator) Authenticate(ctx context.Context) (domain.SessionHandle, error) {
	b := a.browser.Browser()
	if b == nil {
		return domain.SessionHandle{}, browser.ErrNotStarted
	}
	if n, err := a.jar.Restore(ctx, domain.ServiceStorefront, b); err != nil {
		a.logger.Warn("could not restore cookies", zap.Error(err))
	} else if n > 0 {
		a.logger.Info("restored cookies", zap.Int("count", n))
	}

	page, err := a.browser.NewPage(ctx)
	if err != nil {
		return domain.SessionHandle{}, err
	}
	defer page.Close()

	valid, err := a.validate(ctx, page)
	if err != nil {
		return domain.SessionHandle{}, err
	}
	if !valid {
		a.logger.Info("session invalid, logging in")
		if err := a.login(ctx, page); err != nil {
			return domain.SessionHandle{}, err
		}
		if valid, err = a.validate(ctx, page); err != nil {
			return domain.SessionHandle{}, err
		}
		if !valid {
			return domain.SessionHandle{}, errors.New("walmart login did not reach the account page")
		}
	} else {
		a.logger.Info("existing session is valid")
	}

	if n, err := a.jar.Save(ctx, domain.ServiceStorefront, b, cookieDomains...); err != nil {
		a.logger.Warn("could not save cookies", zap.Error(err))
	} else {
		a.logger.Debug("saved cookies", zap.Int("count", n))
	}
	return domain.SessionHandle{
		EstablishedAt: time.Now(),
		CookieFile:    a.jar.Path(domain.ServiceStorefront),
	}, nil
}

// validate opens the account page; a redirect to login means no session.
func (a *Authenticator) validate(ctx context.Context, page *rod.Page) (bool, error) {
	accountURL := strings.TrimRight(a.config.BaseURL, "/") + "/account"
	if err := browser.Navigate(ctx, page, accountURL, a.browser.Timeout()); err != nil {
		return false, err
	}
	if err := browser.Pause(ctx, a.config.SettleDelay); err != nil {
		return false, err
	}
	current := browser.CurrentURL(page)
	return !browser.URLContainsAny(current, append(loginURLMarkers, "verify")...), nil
}

func (a *Authenticator) login(ctx context.Context, page *rod.Page) error {
	if a.config.Email == "" || a.config.Password == "" {
		return errors.New("walmart credentials are not configured")
	}
	timeout := a.browser.Timeout()
	pause := func() error { return browser.Pause(ctx, a.config.SettleDelay) }

	if err := browser.Navigate(ctx, page, a.config.SigninURL, timeout); err != nil {
		return err
	}
	if err := pause(); err != nil {
		return err
	}
	if robot, _ := browser.EvalBool(ctx, page, robotCheckJS); robot {
		return fmt.Errorf("%w: bot challenge on walmart login", domain.ErrTransient)
	}
	if err := browser.Fill(ctx, page, emailSelector, a.config.Email, timeout); err != nil {
		return err
	}
	if _, err := browser.ClickFirst(ctx, page, submitSelectors, "Continue"); err != nil {
		return err
	}
	if err := pause(); err != nil {
		return err
	}
	_, _ = browser.ClickFirst(ctx, page, passwordRadio)
	if err := browser.Fill(ctx, page, passwordSelector, a.config.Password, timeout); err != nil {
		return err
	}
	_, _ = browser.ClickFirst(ctx, page, rememberSelectors)
	if _, err := browser.ClickFirst(ctx, page, submitSelectors, "Sign in"); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_ = page.Context(waitCtx).WaitLoad()
	return pause()
}
