package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-verify/core"
)

const (
	claimExpiration = "exp"
	claimKeyType    = "key_type"
)

// Exchanger swaps a long-lived generator token for a fresh short-lived sdk
// api key. Satisfied by core.Gateway.
type Exchanger interface {
	ExchangeCredential(ctx context.Context, generatorToken string) (string, error)
}

type Option func(*Resolver)

func WithNow(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// Resolver parses and validates a caller-supplied credential. Tokens are
// inspected, never verified cryptographically: the server is the authority,
// this layer only rejects tokens that cannot possibly work.
type Resolver struct {
	exchanger Exchanger
	now       func() time.Time
}

func NewResolver(exchanger Exchanger, options ...Option) *Resolver {
	resolver := &Resolver{
		exchanger: exchanger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(resolver)
	}
	return resolver
}

// Resolve turns a raw token into a usable sdk credential. An sdk token is
// returned unchanged; a generator token is exchanged exactly once. The
// expiry check is inclusive: a token expiring exactly now is expired.
func (r *Resolver) Resolve(ctx context.Context, rawToken string) (core.Credential, error) {
	if r == nil {
		return core.Credential{}, core.NewClientError("auth: resolver is not configured", core.ErrorInternal)
	}

	rawToken = strings.TrimSpace(rawToken)
	claims, err := decodeClaims(rawToken)
	if err != nil {
		return core.Credential{}, err
	}

	expiresAt, err := expirationClaim(claims)
	if err != nil {
		return core.Credential{}, err
	}

	keyType, ok := stringClaim(claims, claimKeyType)
	if !ok {
		return core.Credential{}, core.NewClientError(
			"auth: token is missing the key_type claim",
			core.ErrorMissingKeyType,
		)
	}

	if !r.now().Before(expiresAt) {
		return core.Credential{}, core.NewClientError(
			fmt.Sprintf("auth: token expired at %s", expiresAt.UTC().Format(time.RFC3339)),
			core.ErrorExpiredKey,
		).WithMetadata(map[string]any{"expired_at": expiresAt.UTC()})
	}

	switch core.CredentialKind(keyType) {
	case core.CredentialKindSDK:
		return core.Credential{
			Token:     rawToken,
			Kind:      core.CredentialKindSDK,
			ExpiresAt: expiresAt,
		}, nil
	case core.CredentialKindGenerator:
		return r.exchange(ctx, rawToken)
	default:
		return core.Credential{}, core.NewClientError(
			fmt.Sprintf("auth: unsupported key_type %q", keyType),
			core.ErrorInvalidKeyType,
		).WithMetadata(map[string]any{"key_type": keyType})
	}
}

func (r *Resolver) exchange(ctx context.Context, generatorToken string) (core.Credential, error) {
	if r.exchanger == nil {
		return core.Credential{}, core.NewClientError(
			"auth: credential exchange is not configured",
			core.ErrorGenerationFailed,
		)
	}
	apiKey, err := r.exchanger.ExchangeCredential(ctx, generatorToken)
	if err != nil {
		return core.Credential{}, err
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return core.Credential{}, core.NewClientError(
			"auth: credential exchange returned an empty api key",
			core.ErrorGenerationFailed,
		)
	}
	return core.Credential{Token: apiKey, Kind: core.CredentialKindSDK}, nil
}

// decodeClaims enforces the 3-segment shape, then leans on the jwt parser
// for the base64url and JSON handling of the payload segment.
func decodeClaims(rawToken string) (jwt.MapClaims, error) {
	segments := strings.Split(rawToken, ".")
	if len(segments) != 3 {
		return nil, invalidJWTError(fmt.Sprintf("token has %d segments, want 3", len(segments)))
	}
	for _, segment := range segments {
		if segment == "" {
			return nil, invalidJWTError("token has an empty segment")
		}
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return nil, invalidJWTError(err.Error())
	}
	return claims, nil
}

func invalidJWTError(detail string) error {
	return core.NewClientError(
		fmt.Sprintf("auth: malformed token: %s", detail),
		core.ErrorInvalidJWT,
	)
}

// expirationClaim accepts exp as a JSON number, an integer, or a numeric
// string; anything else counts as missing.
func expirationClaim(claims jwt.MapClaims) (time.Time, error) {
	raw, ok := claims[claimExpiration]
	if !ok {
		return time.Time{}, missingExpirationError("absent")
	}

	var seconds float64
	switch value := raw.(type) {
	case float64:
		seconds = value
	case int64:
		seconds = float64(value)
	case int:
		seconds = float64(value)
	case json.Number:
		parsed, err := value.Float64()
		if err != nil {
			return time.Time{}, missingExpirationError(fmt.Sprintf("unparseable number %q", value.String()))
		}
		seconds = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return time.Time{}, missingExpirationError(fmt.Sprintf("unparseable string %q", value))
		}
		seconds = parsed
	default:
		return time.Time{}, missingExpirationError(fmt.Sprintf("unsupported type %T", raw))
	}

	return time.Unix(int64(seconds), 0).UTC(), nil
}

func missingExpirationError(detail string) error {
	return core.NewClientError(
		fmt.Sprintf("auth: token expiration claim is %s", detail),
		core.ErrorMissingExpiration,
	)
}

func stringClaim(claims jwt.MapClaims, name string) (string, bool) {
	raw, ok := claims[name]
	if !ok {
		return "", false
	}
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return strings.TrimSpace(value), true
}
