package chat

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"WSChat/config"
	"WSChat/logger"
	decode "WSChat/tools/decode"

	"github.com/golang-jwt/jwt/v5"
)

// Request 握手请求的核心视角：查询参数 + 头
type Request struct {
	Params     url.Values
	Headers    http.Header
	RemoteAddr string
}

func NewRequest(r *http.Request) *Request {
	return &Request{
		Params:     r.URL.Query(),
		Headers:    r.Header,
		RemoteAddr: r.RemoteAddr,
	}
}

func (r *Request) HasParam(key string) bool {
	return r.Params.Get(key) != ""
}

func (r *Request) Param(key string) string {
	return r.Params.Get(key)
}

// bearerToken 从 Authorization 头或 token 查询参数取出 Bearer 令牌
func (r *Request) bearerToken() string {
	if authz := strings.TrimSpace(r.Headers.Get("Authorization")); authz != "" {
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
	}
	return r.Params.Get("token")
}

// Authenticator 可插拔认证策略。Validate 为 false 时连接
// 以 UNAUTHORIZED 关闭，不进入注册表。
type Authenticator interface {
	Type() string
	Validate(r *Request) bool
}

// NewAuthenticator 按配置构造策略；未知类型回落到 noauth。
func NewAuthenticator(cfg config.AuthSettings) Authenticator {
	switch strings.ToLower(cfg.Type) {
	case "", "noauth":
		return noauthAuth{}
	case "basic":
		p, err := decode.DecodeMap[basicAuth](cfg.Data)
		if err != nil {
			logger.Errorf("[Auth] basic config invalid: %v", err)
			return noauthAuth{}
		}
		return *p
	case "bearer":
		p, err := decode.DecodeMap[bearerAuth](cfg.Data)
		if err != nil {
			logger.Errorf("[Auth] bearer config invalid: %v", err)
			return noauthAuth{}
		}
		return *p
	case "jwt":
		p, err := decode.DecodeMap[jwtAuth](cfg.Data)
		if err != nil {
			logger.Errorf("[Auth] jwt config invalid: %v", err)
			return noauthAuth{}
		}
		return *p
	default:
		logger.Warnf("[Auth] unknown auth type %q, falling back to noauth", cfg.Type)
		return noauthAuth{}
	}
}

// ---- noauth ----

type noauthAuth struct{}

func (noauthAuth) Type() string           { return "noauth" }
func (noauthAuth) Validate(*Request) bool { return true }

// ---- basic ----

type basicAuth struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

func (basicAuth) Type() string { return "basic" }

func (a basicAuth) Validate(r *Request) bool {
	authz := r.Headers.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "basic ") {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(authz[len("basic "):]))
	if err != nil {
		return false
	}
	want := a.User + ":" + a.Password
	return subtle.ConstantTimeCompare(raw, []byte(want)) == 1
}

// ---- bearer（静态令牌） ----

type bearerAuth struct {
	Token string `json:"token"`
}

func (bearerAuth) Type() string { return "bearer" }

func (a bearerAuth) Validate(r *Request) bool {
	got := r.bearerToken()
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(a.Token)) == 1
}

// ---- jwt（HMAC 签名） ----

type jwtAuth struct {
	Secret string `json:"secret"`
	Issuer string `json:"issuer"`
}

func (jwtAuth) Type() string { return "jwt" }

func (a jwtAuth) Validate(r *Request) bool {
	raw := r.bearerToken()
	if raw == "" {
		return false
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if a.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.Issuer))
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return []byte(a.Secret), nil
	}, opts...)
	if err != nil {
		logger.Debugf("[Auth] jwt reject: %v", err)
		return false
	}
	return token.Valid
}
