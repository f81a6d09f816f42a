package amazon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandOTP_Code(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    string
		wantErr bool
	}{
		{"six digits", "echo 123456", "123456", false},
		{"spaced", "echo '123 456'", "123456", false},
		{"eight digits", "printf 12345678", "12345678", false},
		{"letters", "echo abcdef", "", true},
		{"too short", "echo 123", "", true},
		{"command fails", "exit 3", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := NewCommandOTP(tt.command).Code(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestCommandOTP_NotConfigured(t *testing.T) {
	_, err := NewCommandOTP("  ").Code(context.Background())
	assert.ErrorIs(t, err, ErrOTPUnavailable)
}
