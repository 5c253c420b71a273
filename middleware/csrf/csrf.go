package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

var (
	ErrTokenMismatch = goerrors.New("CSRF token mismatch", goerrors.CategoryAuthz).
				WithCode(goerrors.CodeForbidden).
				WithTextCode("CSRF_MISMATCH")
	ErrTokenMissing = goerrors.New("CSRF token missing", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode("CSRF_MISSING")
	ErrTokenExpired = goerrors.New("CSRF token expired", goerrors.CategoryAuthz).
			WithCode(goerrors.CodeForbidden).
			WithTextCode("CSRF_EXPIRED")
	ErrBindingMissing = goerrors.New("CSRF token has no device to bind to", goerrors.CategoryInternal).
				WithCode(goerrors.CodeInternal).
				WithTextCode("CSRF_UNBOUND")
)

// MinKeyLength is the shortest secure key accepted
const MinKeyLength = 32

// DefaultNonceLength is the number of random bytes in each token
const DefaultNonceLength = 16

// DefaultContextKey is the locals key holding the token for views
const DefaultContextKey = "csrf_token"

// DefaultFieldKey is the locals key holding the ready made hidden input
const DefaultFieldKey = "csrf_field"

// DefaultFormFieldName is the default name for the CSRF token form field
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the default header name for CSRF tokens
const DefaultHeaderName = "X-CSRF-Token"

// DefaultBindingKey is the locals key holding the device ID tokens are bound to
const DefaultBindingKey = "device_id"

// Config defines the configuration for CSRF middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(router.Context) bool

	NonceLength int

	ContextKey string

	FormFieldName string

	HeaderName string

	// BindingKey names the locals entry tokens are bound to. The session
	// middleware stores the device ID there.
	BindingKey string

	ErrorHandler router.ErrorHandler

	// SafeMethods defines HTTP methods that don't require CSRF protection
	SafeMethods []string

	Expiration time.Duration

	// SecureKey signs tokens, at least MinKeyLength bytes
	SecureKey []byte

	Now func() time.Time
}

// New creates a new CSRF middleware. Tokens are stateless: an HMAC over the
// issue time, a nonce and the device ID, so any replica holding the key can
// verify them.
func New(config ...Config) router.MiddlewareFunc {
	cfg := configDefault(config...)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return next(ctx)
			}

			binding := bindingOf(ctx, cfg.BindingKey)
			if binding == "" {
				return cfg.ErrorHandler(ctx, ErrBindingMissing)
			}

			token, err := Issue(cfg, binding)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, token)
			ctx.Locals(DefaultFieldKey, HiddenField(cfg.FormFieldName, token))

			method := strings.ToUpper(ctx.Method())
			if slices.Contains(cfg.SafeMethods, method) {
				return next(ctx)
			}

			received := ctx.FormValue(cfg.FormFieldName)
			if received == "" {
				received = ctx.Header(cfg.HeaderName)
			}

			if err := Verify(cfg, binding, received); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			return next(ctx)
		}
	}
}

// Issue returns a new token bound to binding
func Issue(cfg Config, binding string) (string, error) {
	cfg = configDefault(cfg)

	nonce := make([]byte, cfg.NonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read CSRF nonce")
	}

	payload := fmt.Sprintf("%d:%s", cfg.Now().UTC().Unix(), hex.EncodeToString(nonce))
	token := payload + ":" + hex.EncodeToString(sign(cfg.SecureKey, payload, binding))
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

// Verify checks that token was issued for binding and has not expired
func Verify(cfg Config, binding, token string) error {
	cfg = configDefault(cfg)

	if token == "" {
		return ErrTokenMissing.Clone()
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch.Clone()
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 3 {
		return ErrTokenMismatch.Clone()
	}

	issued, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenMismatch.Clone()
	}

	signature, err := hex.DecodeString(parts[2])
	if err != nil {
		return ErrTokenMismatch.Clone()
	}

	expected := sign(cfg.SecureKey, parts[0]+":"+parts[1], binding)
	if !hmac.Equal(signature, expected) {
		return ErrTokenMismatch.Clone()
	}

	if cfg.Expiration > 0 && cfg.Now().UTC().After(time.Unix(issued, 0).Add(cfg.Expiration)) {
		return ErrTokenExpired.Clone()
	}

	return nil
}

// HiddenField renders the form input carrying token
func HiddenField(name, token string) string {
	if name == "" {
		name = DefaultFormFieldName
	}
	return `<input type="hidden" name="` + name + `" value="` + token + `">`
}

func sign(key []byte, payload, binding string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	mac.Write([]byte{0})
	mac.Write([]byte(binding))
	return mac.Sum(nil)
}

func bindingOf(ctx router.Context, key string) string {
	if raw := ctx.Locals(key); raw != nil {
		if id, ok := raw.(string); ok {
			return id
		}
	}
	return ""
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.NonceLength <= 0 {
		cfg.NonceLength = DefaultNonceLength
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}

	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}

	if cfg.BindingKey == "" {
		cfg.BindingKey = DefaultBindingKey
	}

	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}

	if cfg.Expiration == 0 {
		cfg.Expiration = 12 * time.Hour
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if len(cfg.SecureKey) < MinKeyLength {
		panic(fmt.Errorf("csrf: secure key must be at least %d bytes, got %d", MinKeyLength, len(cfg.SecureKey)))
	}

	return cfg
}

func defaultErrorHandler(ctx router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "CSRF validation error").
			WithCode(goerrors.CodeInternal)
	}
	code := richErr.Code
	if code == 0 {
		code = goerrors.CodeInternal
	}
	if code == goerrors.CodeInternal {
		return ctx.Status(code).SendString("CSRF configuration error")
	}
	return ctx.Status(code).SendString(richErr.Message)
}
