package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/auth"
	"github.com/NPatel10/jewellery-ecommerce/pkg/httpmiddleware"
)

// Claims are the bearer token claims. The subject is the user id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens issued by the identity service.
type Authenticator struct {
	secret []byte
	issuer string
	parser *jwt.Parser
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator. When issuer is set, tokens from
// other issuers are rejected.
func NewAuthenticator(secret []byte, issuer string) (*Authenticator, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Authenticator{
		secret: secret,
		issuer: issuer,
		parser: jwt.NewParser(opts...),
		now:    time.Now,
	}, nil
}

// Authenticate parses raw and returns the principal it names. Tokens can only
// carry the customer or admin role.
func (a *Authenticator) Authenticate(raw string) (auth.Principal, error) {
	var claims Claims
	if _, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return auth.Principal{}, errors.Wrap(err, "parse token")
	}
	if claims.Subject == "" {
		return auth.Principal{}, errors.New("token has no subject")
	}

	role := strings.ToLower(strings.TrimSpace(claims.Role))
	switch role {
	case "":
		role = auth.RoleCustomer
	case auth.RoleCustomer, auth.RoleAdmin:
	default:
		return auth.Principal{}, errors.Errorf("unsupported role %q", claims.Role)
	}
	return auth.Principal{ID: claims.Subject, Role: role}, nil
}

// Sign issues a token for p valid for ttl. It is used by tooling and tests;
// production tokens come from the identity service.
func (a *Authenticator) Sign(p auth.Principal, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// principal in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			unauthenticated(w, r, "missing bearer token")
			return
		}
		p, err := a.Authenticate(raw)
		if err != nil {
			unauthenticated(w, r, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthenticated(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	httpmiddleware.WriteError(w, r, httpmiddleware.Error{
		Kind:    "unauthenticated",
		Code:    "Unauthenticated",
		Message: msg,
		Status:  http.StatusUnauthorized,
	})
}
