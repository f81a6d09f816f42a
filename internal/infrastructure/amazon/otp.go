package amazon

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// ErrOTPUnavailable is returned when a code is required but no OTP command
// is configured.
var ErrOTPUnavailable = errors.New("one-time code required but no otp command configured")

var otpPattern = regexp.MustCompile(`^\d{6,8}$`)

// OTPSource produces a one-time code for the login flow.
type OTPSource interface {
	Code(ctx context.Context) (string, error)
}

// CommandOTP runs a shell command and reads the code from its stdout.
type CommandOTP struct {
	Command string
	Timeout time.Duration
}

// NewCommandOTP creates an OTP source running command through sh.
func NewCommandOTP(command string) *CommandOTP {
	return &CommandOTP{Command: command, Timeout: 10 * time.Second}
}

// Code runs the command and validates its output.
func (o *CommandOTP) Code(ctx context.Context) (string, error) {
	if strings.TrimSpace(o.Command) == "" {
		return "", ErrOTPUnavailable
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "sh", "-c", o.Command).Output()
	if err != nil {
		return "", fmt.Errorf("otp command: %w", err)
	}
	code := strings.ReplaceAll(strings.TrimSpace(string(out)), " ", "")
	if !otpPattern.MatchString(code) {
		return "", fmt.Errorf("otp command: output is not a 6-8 digit code")
	}
	return code, nil
}
