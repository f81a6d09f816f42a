package amazon

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"github.com/cartsync/backend/internal/domain"
	"github.com/cartsync/backend/internal/infrastructure/browser"
)

var cookieDomains = []string{"amazon.com"}

// Authenticator establishes the Amazon session: saved cookies first, the
// full login flow when they no longer work.
type Authenticator struct {
	client *Client
	jar    *browser.CookieJar
	otp    OTPSource
	logger *zap.Logger
}

// NewAuthenticator creates the session manager for client.
func NewAuthenticator(client *Client, jar *browser.CookieJar, otp OTPSource, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		client: client,
		jar:    jar,
		otp:    otp,
		logger: logger.Named("amazon_auth"),
	}
}

// Service names the source service.
func (a *Authenticator) Service() domain.Service { return domain.ServiceSource }

// Authenticate validates or re-creates the session and leaves the list tab
// on the shopping list.
func (a *Authenticator) Authenticate(ctx context.Context) (domain.SessionHandle, error) {
	c := a.client
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.browser.Browser()
	if b == nil {
		return domain.SessionHandle{}, browser.ErrNotStarted
	}
	if n, err := a.jar.Restore(ctx, domain.ServiceSource, b); err != nil {
		a.logger.Warn("could not restore cookies", zap.Error(err))
	} else if n > 0 {
		a.logger.Info("restored cookies", zap.Int("count", n))
	}

	page, err := c.listPage(ctx, true)
	switch {
	case err == nil:
		a.logger.Info("existing session is valid")
		return a.persist(ctx, b)
	case !errors.Is(err, domain.ErrSessionExpired):
		return domain.SessionHandle{}, err
	}

	a.logger.Info("session invalid, logging in")
	if err := a.login(ctx, page); err != nil {
		return domain.SessionHandle{}, err
	}
	if _, err := c.listPage(ctx, true); err != nil {
		return domain.SessionHandle{}, fmt.Errorf("amazon login did not reach the list: %w", err)
	}
	return a.persist(ctx, b)
}

func (a *Authenticator) persist(ctx context.Context, b *rod.Browser) (domain.SessionHandle, error) {
	n, err := a.jar.Save(ctx, domain.ServiceSource, b, cookieDomains...)
	if err != nil {
		a.logger.Warn("could not save cookies", zap.Error(err))
	} else {
		a.logger.Debug("saved cookies", zap.Int("count", n))
	}
	return domain.SessionHandle{
		EstablishedAt: time.Now(),
		CookieFile:    a.jar.Path(domain.ServiceSource),
	}, nil
}

func (a *Authenticator) login(ctx context.Context, page *rod.Page) error {
	cfg := a.client.config
	if cfg.Email == "" || cfg.Password == "" {
		return errors.New("amazon credentials are not configured")
	}
	timeout := a.client.browser.Timeout()

	if err := browser.Navigate(ctx, page, signinURL(cfg), timeout); err != nil {
		return err
	}
	if err := browser.Fill(ctx, page, "#ap_email", cfg.Email, timeout); err != nil {
		return err
	}
	if _, err := browser.ClickFirst(ctx, page, []string{"#continue", "input#continue"}); err != nil {
		return err
	}
	if err := browser.Pause(ctx, cfg.SettleDelay); err != nil {
		return err
	}
	if err := browser.Fill(ctx, page, "#ap_password", cfg.Password, timeout); err != nil {
		return err
	}
	_, _ = browser.ClickFirst(ctx, page, []string{"#rememberMe", "input[name='rememberMe']"})
	if _, err := browser.ClickFirst(ctx, page, []string{"#signInSubmit"}); err != nil {
		return err
	}
	if err := a.settle(ctx, page); err != nil {
		return err
	}

	if err := a.handleOTP(ctx, page); err != nil {
		return err
	}
	if ok, _ := browser.ClickFirst(ctx, page, skipPromptSelectors, skipPromptTexts...); ok {
		a.logger.Info("dismissed post-login prompt")
		if err := a.settle(ctx, page); err != nil {
			return err
		}
	}
	return nil
}

func (a *Authenticator) handleOTP(ctx context.Context, page *rod.Page) error {
	visible, err := browser.Visible(ctx, page, otpSelectors)
	if err != nil || !visible {
		return err
	}
	a.logger.Info("one-time code requested")
	code, err := a.otp.Code(ctx)
	if err != nil {
		return err
	}
	timeout := a.client.browser.Timeout()
	for _, sel := range otpSelectors {
		if ok, _ := browser.Visible(ctx, page, []string{sel}); ok {
			if err := browser.Fill(ctx, page, sel, code, timeout); err != nil {
				return err
			}
			break
		}
	}
	_, _ = browser.ClickFirst(ctx, page, []string{"#auth-mfa-remember-device"})
	if _, err := browser.ClickFirst(ctx, page, []string{"#auth-signin-button", "input[type='submit']"}); err != nil {
		return err
	}
	return a.settle(ctx, page)
}

func (a *Authenticator) settle(ctx context.Context, page *rod.Page) error {
	waitCtx, cancel := context.WithTimeout(ctx, a.client.browser.Timeout())
	defer cancel()
	// The submit may or may not navigate; a failed wait is not an error.
	_ = page.Context(waitCtx).WaitLoad()
	return browser.Pause(ctx, a.client.config.SettleDelay)
}

// signinURL builds the sign-in URL that returns to the shopping list.
func signinURL(cfg Config) string {
	q := url.Values{}
	q.Set("openid.return_to", cfg.ListURL)
	q.Set("openid.mode", "checkid_setup")
	q.Set("openid.ns", "http://specs.openid.net/auth/2.0")
	q.Set("openid.identity", "http://specs.openid.net/auth/2.0/identifier_select")
	q.Set("openid.claimed_id", "http://specs.openid.net/auth/2.0/identifier_select")
	q.Set("openid.assoc_handle", "amzn_alexa_quantum_us")
	q.Set("openid.pape.max_auth_age", "3600")
	return cfg.SigninURL + "?" + q.Encode()
}
