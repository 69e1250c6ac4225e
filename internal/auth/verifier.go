package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhouzirui/z-social/backend/internal/model/user"
)

var (
	// ErrInvalidToken covers every reason a token cannot vouch for an identity.
	ErrInvalidToken = errors.New("invalid token")
	// ErrIdentityNotFound means the token was valid but names no known user.
	ErrIdentityNotFound = fmt.Errorf("%w: identity not found", ErrInvalidToken)
)

// identifierClaims are consulted in order for the user identifier.
var identifierClaims = []string{"id", "user_identifier", "sub"}

// nestedClaim carries an inner token issued by the login flow.
const nestedClaim = "access"

// Verifier validates signed tokens and resolves them to users.
type Verifier struct {
	secret  []byte
	methods []string
	users   user.Store
}

// NewVerifier builds a Verifier accepting only the given HMAC algorithm.
func NewVerifier(secret, algorithm string, users user.Store) *Verifier {
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	return &Verifier{
		secret:  []byte(secret),
		methods: []string{algorithm},
		users:   users,
	}
}

// Verify returns the user the token identifies. Every failure satisfies
// errors.Is(err, ErrInvalidToken).
func (v *Verifier) Verify(ctx context.Context, token string) (user.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return user.User{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	claims, err := v.parse(token)
	if err != nil {
		return user.User{}, err
	}

	if inner, ok := claims[nestedClaim].(string); ok && inner != "" {
		claims, err = v.parse(inner)
		if err != nil {
			return user.User{}, fmt.Errorf("access token: %w", err)
		}
	}

	return v.resolve(ctx, claims)
}

func (v *Verifier) parse(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods(v.methods), jwt.WithJSONNumber())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (v *Verifier) resolve(ctx context.Context, claims jwt.MapClaims) (user.User, error) {
	for _, key := range identifierClaims {
		raw, ok := claims[key]
		if !ok || raw == nil {
			continue
		}

		if id, ok := toID(raw); ok {
			return v.findByID(ctx, id)
		}

		handle, ok := raw.(string)
		if !ok || strings.TrimSpace(handle) == "" {
			continue
		}
		u, err := v.users.FindByUsername(ctx, handle)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, user.ErrNotFound) {
			return user.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if id, convErr := strconv.ParseInt(handle, 10, 64); convErr == nil {
			return v.findByID(ctx, id)
		}
		return user.User{}, ErrIdentityNotFound
	}
	return user.User{}, fmt.Errorf("%w: no identifier claim", ErrInvalidToken)
}

func (v *Verifier) findByID(ctx context.Context, id int64) (user.User, error) {
	u, err := v.users.FindByID(ctx, id)
	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, user.ErrNotFound):
		return user.User{}, ErrIdentityNotFound
	default:
		return user.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}

// toID converts numeric claim values. Strings are left to the handle lookup.
func toID(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		id, err := n.Int64()
		return id, err == nil
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

// TokenFromRequest reads the token from the `token` query parameter, falling
// back to an `Authorization: Bearer` header.
func TokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	return BearerToken(r.Header.Get("Authorization"))
}

// BearerToken extracts the credential of a Bearer authorization header.
func BearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
