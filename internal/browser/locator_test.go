package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocatorSelector(t *testing.T) {
	tests := []struct {
		name string
		loc  Locator
		want string
	}{
		{"button role", ByRole("button", "PDF Compression"), `button, [role="button"], input[type="button"], input[type="submit"]`},
		{"link role", ByRole("link", "Download PDF"), `a[href], [role="link"]`},
		{"tab role", ByRole("tab", "PDF Compression"), `[role="tab"]`},
		{"role is case-insensitive", ByRole("Button", "x"), `button, [role="button"], input[type="button"], input[type="submit"]`},
		{"undocumented role falls back to attribute", ByRole("checkbox", "agree"), `[role="checkbox"]`},
		{"unknown role falls back to attribute", ByRole("slider", "volume"), `[role="slider"]`},
		{"css wins", ByCSS(`input[type="file"]`), `input[type="file"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.loc.Selector()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Locator{}.Selector()
	assert.Error(t, err)
}

func TestLocatorTextPattern(t *testing.T) {
	assert.Equal(t, "/PDF Compression/i", ByRole("button", "PDF Compression").TextPattern())
	assert.Equal(t, `/Save \(draft\)/i`, ByRole("button", "Save (draft)").TextPattern())
	assert.Empty(t, ByCSS("a").TextPattern())
}

func TestLocatorString(t *testing.T) {
	assert.Equal(t, `role=link[name="Download PDF"]`, ByRole("link", "Download PDF").String())
	assert.Equal(t, `input[type="file"]`, ByCSS(`input[type="file"]`).String())
}

func TestIsConnectionError(t *testing.T) {
	assert.False(t, isConnectionError(nil))
	assert.False(t, isConnectionError(context.DeadlineExceeded))
	assert.False(t, isConnectionError(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.True(t, isConnectionError(errors.New("write: broken pipe")))
	assert.True(t, isConnectionError(errors.New("unexpected EOF")))
	assert.False(t, isConnectionError(errors.New("net::ERR_CONNECTION_REFUSED")))
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := &Session{}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
