package chat

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"testing"
	"time"

	"WSChat/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authRequest(header, value string) *Request {
	h := http.Header{}
	if header != "" {
		h.Set(header, value)
	}
	return &Request{Params: url.Values{}, Headers: h}
}

func TestNoauthAcceptsEverything(t *testing.T) {
	a := NewAuthenticator(config.AuthSettings{Type: "noauth"})
	assert.Equal(t, "noauth", a.Type())
	assert.True(t, a.Validate(authRequest("", "")))
}

func TestUnknownTypeFallsBackToNoauth(t *testing.T) {
	a := NewAuthenticator(config.AuthSettings{Type: "oauth2"})
	assert.Equal(t, "noauth", a.Type())
}

func TestBasicAuth(t *testing.T) {
	a := NewAuthenticator(config.AuthSettings{
		Type: "basic",
		Data: map[string]any{"user": "admin", "password": "pass"},
	})
	require.Equal(t, "basic", a.Type())

	good := base64.StdEncoding.EncodeToString([]byte("admin:pass"))
	assert.True(t, a.Validate(authRequest("Authorization", "Basic "+good)))

	bad := base64.StdEncoding.EncodeToString([]byte("admin:wrong"))
	assert.False(t, a.Validate(authRequest("Authorization", "Basic "+bad)))
	assert.False(t, a.Validate(authRequest("", "")))
}

func TestBearerAuth(t *testing.T) {
	a := NewAuthenticator(config.AuthSettings{
		Type: "bearer",
		Data: map[string]any{"token": "s3cret"},
	})

	assert.True(t, a.Validate(authRequest("Authorization", "Bearer s3cret")))
	assert.False(t, a.Validate(authRequest("Authorization", "Bearer nope")))

	// token 也可以走查询参数
	req := &Request{Params: url.Values{"token": []string{"s3cret"}}, Headers: http.Header{}}
	assert.True(t, a.Validate(req))
}

func TestJWTAuth(t *testing.T) {
	secret := "hmac-secret"
	a := NewAuthenticator(config.AuthSettings{
		Type: "jwt",
		Data: map[string]any{"secret": secret, "issuer": "wschat"},
	})
	require.Equal(t, "jwt", a.Type())

	claims := jwt.MapClaims{
		"iss": "wschat",
		"sub": "10",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	assert.True(t, a.Validate(authRequest("Authorization", "Bearer "+token)))

	// 错误签名拒绝
	wrong, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other"))
	require.NoError(t, err)
	assert.False(t, a.Validate(authRequest("Authorization", "Bearer "+wrong)))

	// 过期拒绝
	expired := jwt.MapClaims{"iss": "wschat", "exp": time.Now().Add(-time.Hour).Unix()}
	old, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString([]byte(secret))
	require.NoError(t, err)
	assert.False(t, a.Validate(authRequest("Authorization", "Bearer "+old)))

	// 发行方不符拒绝
	otherIss := jwt.MapClaims{"iss": "someone", "exp": time.Now().Add(time.Hour).Unix()}
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, otherIss).SignedString([]byte(secret))
	require.NoError(t, err)
	assert.False(t, a.Validate(authRequest("Authorization", "Bearer "+foreign)))
}
