package crawlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session/sessiontest"
)

func authConfig() *models.AuthConfig {
	return &models.AuthConfig{
		Email:             "reader@example.com",
		Password:          "hunter2",
		SignInURL:         signInURL,
		SignInURLFragment: "/ap/signin",
		EmailSelector:     "#email",
		PasswordSelector:  "#password",
		SubmitSelector:    "#submit",
	}
}

func TestSignedOut(t *testing.T) {
	ctx := context.Background()
	fake := sessiontest.New()
	fake.Static("https://reader.example.com/", map[string][]*sessiontest.Node{
		".signin-banner": {sessiontest.El("div", nil)},
	})

	out, err := SignedOut(ctx, fake, nil)
	require.NoError(t, err)
	assert.False(t, out, "未配置认证时不判定掉线")

	fake.SetURL(signInURL + "?return=x")
	out, err = SignedOut(ctx, fake, authConfig())
	require.NoError(t, err)
	assert.True(t, out)

	require.NoError(t, fake.Navigate(ctx, "https://reader.example.com/"))
	cfg := authConfig()
	cfg.SignInMarker = ".signin-banner"
	out, err = SignedOut(ctx, fake, cfg)
	require.NoError(t, err)
	assert.True(t, out, "页面出现登录标记")
}

func TestFormAuthenticator_TwoStep(t *testing.T) {
	ctx := context.Background()
	fake := sessiontest.New()

	email := sessiontest.El("input", nil)
	password := sessiontest.El("input", nil)
	step := 0
	submit := sessiontest.El("button", nil)
	submit.OnClick = func() error {
		step++
		if step == 2 {
			fake.SetURL("https://shop.example.com/home")
		}
		return nil
	}
	fake.Handle(signInURL, func(sel string) []*sessiontest.Node {
		switch sel {
		case "#email":
			return []*sessiontest.Node{email}
		case "#submit":
			return []*sessiontest.Node{submit}
		case "#password":
			if step >= 1 {
				return []*sessiontest.Node{password}
			}
		}
		return nil
	})

	auth := NewFormAuthenticator(authConfig(), 2, time.Millisecond, 0)
	require.NoError(t, auth.Authenticate(ctx, fake))

	assert.Equal(t, []string{"reader@example.com"}, email.Inputs())
	assert.Equal(t, []string{"hunter2"}, password.Inputs())
	assert.Equal(t, 2, submit.Clicks())
}

func TestFormAuthenticator_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("没有凭据", func(t *testing.T) {
		auth := NewFormAuthenticator(&models.AuthConfig{}, 1, time.Millisecond, 0)
		err := auth.Authenticate(ctx, sessiontest.New())
		assert.True(t, errors.Is(err, ErrDeauthenticated))
	})

	t.Run("提交后仍在登录页", func(t *testing.T) {
		fake := sessiontest.New()
		fake.Static(signInURL, map[string][]*sessiontest.Node{
			"#email":    {sessiontest.El("input", nil)},
			"#password": {sessiontest.El("input", nil)},
			"#submit":   {sessiontest.El("button", nil)},
		})
		auth := NewFormAuthenticator(authConfig(), 1, time.Millisecond, 0)
		err := auth.Authenticate(ctx, fake)
		assert.True(t, errors.Is(err, ErrDeauthenticated))
	})
}
