package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

var labelNoise = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// screenshotter is the part of *rod.Page used for captures.
type screenshotter interface {
	Screenshot(fullPage bool, req *proto.PageCaptureScreenshot) ([]byte, error)
}

// Screenshots captures the attached page on failure. It implements
// domain.Diagnostics and never fails the caller.
type Screenshots struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	target screenshotter
}

// NewScreenshots writes PNG captures under dir.
func NewScreenshots(dir string, logger *zap.Logger) *Screenshots {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Screenshots{dir: dir, logger: logger.Named("diagnostics"), now: time.Now}
}

// Attach sets the page to capture.
func (s *Screenshots) Attach(target screenshotter) {
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()
}

// Detach forgets the current page.
func (s *Screenshots) Detach() {
	s.Attach(nil)
}

// Capture logs the failure and saves a screenshot of the attached page.
func (s *Screenshots) Capture(ctx context.Context, label string, cause error) {
	s.mu.Lock()
	target := s.target
	s.mu.Unlock()

	fields := []zap.Field{zap.String("label", label)}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	if target == nil || ctx.Err() != nil {
		s.logger.Warn("failure captured without screenshot", fields...)
		return
	}

	path, err := s.write(target, label)
	if err != nil {
		s.logger.Warn("screenshot failed", append(fields, zap.NamedError("screenshot_error", err))...)
		return
	}
	s.logger.Warn("failure captured", append(fields, zap.String("screenshot", path))...)
}

func (s *Screenshots) write(target screenshotter, label string) (string, error) {
	png, err := target.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.png", SanitizeLabel(label), s.now().Format("20060102_150405"))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// SanitizeLabel turns a failure label into a safe file name stem.
func SanitizeLabel(label string) string {
	s := strings.Trim(labelNoise.ReplaceAllString(label, "_"), "_")
	if s == "" {
		return "failure"
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return strings.ToLower(s)
}
