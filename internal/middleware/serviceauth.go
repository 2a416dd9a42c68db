package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/neoraffle/pkg/logger"
)

const (
	// ServiceTokenHeader is the header name for service-to-service tokens.
	ServiceTokenHeader = "X-Service-Token"

	// DefaultServiceTokenExpiry is the default expiration time for service tokens.
	DefaultServiceTokenExpiry = 1 * time.Hour

	tokenIssuer = "neoraffle"
)

// Service identities allowed to drive the raffle.
const (
	ServiceKeeper   = "keeper"
	ServiceOracle   = "oracle"
	ServiceOperator = "operator"
	// ServicePlayer tokens act for the single account named in their
	// player claim.
	ServicePlayer = "player"
)

// Errors
var (
	ErrMissingToken      = errors.New("missing service token")
	ErrInvalidToken      = errors.New("invalid service token")
	ErrServiceNotAllowed = errors.New("service not authorized")
	ErrPlayerMismatch    = errors.New("token does not authorize this player")
)

type contextKey string

const (
	serviceIDKey contextKey = "service_id"
	playerKey    contextKey = "player"
)

// ServiceClaims represents JWT claims for service-to-service authentication.
type ServiceClaims struct {
	ServiceID string `json:"service_id"`
	Player    string `json:"player,omitempty"`
	jwt.RegisteredClaims
}

// ServiceAuth verifies HS256 service tokens.
type ServiceAuth struct {
	secret []byte
	logger *logger.Logger

	mu    sync.RWMutex
	cache map[string]cachedToken
}

type cachedToken struct {
	claims    *ServiceClaims
	expiresAt time.Time
}

// NewServiceAuth creates the verifier. An empty secret rejects every token.
func NewServiceAuth(secret string, log *logger.Logger) *ServiceAuth {
	if log == nil {
		log = logger.NewDefault("serviceauth")
	}
	return &ServiceAuth{
		secret: []byte(secret),
		logger: log,
		cache:  make(map[string]cachedToken),
	}
}

// Require returns middleware admitting only the listed services.
func (a *ServiceAuth) Require(services ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(services))
	for _, s := range services {
		allowed[s] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(ServiceTokenHeader)
			if token == "" {
				writeError(w, http.StatusUnauthorized, ErrMissingToken.Error())
				return
			}
			claims, err := a.Validate(token)
			if err != nil {
				a.logger.WithError(err).WithField("path", r.URL.Path).Warn("service token validation failed")
				writeError(w, http.StatusUnauthorized, ErrInvalidToken.Error())
				return
			}
			if !allowed[claims.ServiceID] {
				a.logger.WithField("service_id", claims.ServiceID).
					WithField("path", r.URL.Path).
					Warn("service not in allowed list")
				writeError(w, http.StatusForbidden, ErrServiceNotAllowed.Error())
				return
			}
			ctx := context.WithValue(r.Context(), serviceIDKey, claims.ServiceID)
			if claims.Player != "" {
				ctx = context.WithValue(ctx, playerKey, claims.Player)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Validate parses and verifies a service token.
func (a *ServiceAuth) Validate(tokenString string) (*ServiceClaims, error) {
	if cached := a.getCachedToken(tokenString); cached != nil {
		return cached, nil
	}
	if len(a.secret) == 0 {
		return nil, fmt.Errorf("%w: no secret configured", ErrInvalidToken)
	}

	claims := &ServiceClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ServiceID == "" {
		return nil, fmt.Errorf("%w: missing service_id claim", ErrInvalidToken)
	}
	if claims.ServiceID == ServicePlayer && claims.Player == "" {
		return nil, fmt.Errorf("%w: missing player claim", ErrInvalidToken)
	}

	a.cacheToken(tokenString, claims)
	return claims, nil
}

func (a *ServiceAuth) getCachedToken(tokenString string) *ServiceClaims {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cached, ok := a.cache[tokenString]
	if !ok || time.Now().After(cached.expiresAt) {
		return nil
	}
	return cached.claims
}

func (a *ServiceAuth) cacheToken(tokenString string, claims *ServiceClaims) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Cache for 5 minutes or until token expiry, whichever is sooner
	expiry := time.Now().Add(5 * time.Minute)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(expiry) {
		expiry = claims.ExpiresAt.Time
	}
	a.cache[tokenString] = cachedToken{claims: claims, expiresAt: expiry}

	if len(a.cache) > 1000 {
		now := time.Now()
		for key, c := range a.cache {
			if now.After(c.expiresAt) {
				delete(a.cache, key)
			}
		}
	}
}

// GenerateServiceToken signs a token for serviceID.
func GenerateServiceToken(secret, serviceID string, expiry time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("service token secret is empty")
	}
	return signToken(secret, &ServiceClaims{ServiceID: serviceID}, serviceID, expiry)
}

// GeneratePlayerToken signs a token that lets its holder act for player.
func GeneratePlayerToken(secret, player string, expiry time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("service token secret is empty")
	}
	if player == "" {
		return "", errors.New("player is empty")
	}
	return signToken(secret, &ServiceClaims{ServiceID: ServicePlayer, Player: player}, player, expiry)
}

func signToken(secret string, claims *ServiceClaims, subject string, expiry time.Duration) (string, error) {
	if expiry == 0 {
		expiry = DefaultServiceTokenExpiry
	}
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		Issuer:    tokenIssuer,
		Subject:   subject,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// GetServiceID extracts service ID from context.
func GetServiceID(ctx context.Context) string {
	if v, ok := ctx.Value(serviceIDKey).(string); ok {
		return v
	}
	return ""
}

// GetPlayer extracts the player claim of a player token from context.
func GetPlayer(ctx context.Context) string {
	if v, ok := ctx.Value(playerKey).(string); ok {
		return v
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
