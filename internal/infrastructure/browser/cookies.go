package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/cartsync/backend/internal/domain"
)

// cookieBrowser is the part of *rod.Browser the jar needs.
type cookieBrowser interface {
	GetCookies() ([]*proto.NetworkCookie, error)
	SetCookies(cookies []*proto.NetworkCookieParam) error
}

// CookieJar persists per-service cookies as JSON files so a restart can
// skip the login flow.
type CookieJar struct {
	dir string
	now func() time.Time
}

// NewCookieJar stores cookie files under dir.
func NewCookieJar(dir string) *CookieJar {
	return &CookieJar{dir: dir, now: time.Now}
}

// Path returns the cookie file of a service.
func (j *CookieJar) Path(service domain.Service) string {
	return filepath.Join(j.dir, string(service)+"_cookies.json")
}

// Save writes the browser cookies whose domain ends with one of domains.
// No domains = all cookies.
func (j *CookieJar) Save(ctx context.Context, service domain.Service, b cookieBrowser, domains ...string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	all, err := b.GetCookies()
	if err != nil {
		return 0, fmt.Errorf("read cookies: %w", err)
	}

	kept := make([]*proto.NetworkCookie, 0, len(all))
	for _, c := range all {
		if c != nil && matchesDomain(c.Domain, domains) {
			kept = append(kept, c)
		}
	}

	data, err := json.MarshalIndent(kept, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode cookies: %w", err)
	}
	if err := writeFileAtomic(j.Path(service), data); err != nil {
		return 0, err
	}
	return len(kept), nil
}

// Restore loads saved cookies into the browser, dropping expired ones. A
// missing file restores nothing.
func (j *CookieJar) Restore(ctx context.Context, service domain.Service, b cookieBrowser) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := os.ReadFile(j.Path(service))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cookie file: %w", err)
	}

	var saved []*proto.NetworkCookie
	if err := json.Unmarshal(data, &saved); err != nil {
		return 0, fmt.Errorf("decode cookie file: %w", err)
	}

	now := j.now()
	live := make([]*proto.NetworkCookie, 0, len(saved))
	for _, c := range saved {
		if c == nil || expired(c, now) {
			continue
		}
		live = append(live, c)
	}
	if len(live) == 0 {
		return 0, nil
	}
	if err := b.SetCookies(proto.CookiesToParams(live)); err != nil {
		return 0, fmt.Errorf("set cookies: %w", err)
	}
	return len(live), nil
}

// Clear removes the saved cookies of a service.
func (j *CookieJar) Clear(service domain.Service) error {
	err := os.Remove(j.Path(service))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cookie file: %w", err)
	}
	return nil
}

func expired(c *proto.NetworkCookie, now time.Time) bool {
	if c.Session || c.Expires <= 0 {
		return false
	}
	return c.Expires.Time().Before(now)
}

func matchesDomain(cookieDomain string, domains []string) bool {
	if len(domains) == 0 {
		return true
	}
	d := strings.TrimPrefix(strings.ToLower(cookieDomain), ".")
	for _, want := range domains {
		want = strings.TrimPrefix(strings.ToLower(want), ".")
		if d == want || strings.HasSuffix(d, "."+want) {
			return true
		}
	}
	return false
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create cookie dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cookies-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cookie file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cookie file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cookie file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename cookie file: %w", err)
	}
	return nil
}
