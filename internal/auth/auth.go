package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	bearerPrefix       = "bearer "
	principalKey       = "settlement.principal"
	errorCodeAuth      = "unauthorized"
	errorCodeForbidden = "forbidden"
)

// Token validation failures.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims carries the subject and marketplace role issued by the user service.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Validator verifies HS256 bearer tokens.
type Validator struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

// NewValidator builds a Validator for signingKey. An empty issuer accepts any issuer.
func NewValidator(signingKey string, issuer string) (*Validator, error) {
	if strings.TrimSpace(signingKey) == "" {
		return nil, fmt.Errorf("jwt signing key is empty")
	}
	return &Validator{signingKey: []byte(signingKey), issuer: issuer, now: time.Now}, nil
}

// Validate parses token and returns the caller as a settlement party.
func (validator *Validator) Validate(token string) (settlement.Party, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(validator.now),
	}
	if validator.issuer != "" {
		options = append(options, jwt.WithIssuer(validator.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(token *jwt.Token) (any, error) {
		return validator.signingKey, nil
	}, options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return settlement.Party{}, ErrExpiredToken
		}
		return settlement.Party{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return settlement.Party{}, ErrInvalidToken
	}
	userID, err := settlement.NewUserID(claims.Subject)
	if err != nil {
		return settlement.Party{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	role, err := settlement.ParseRole(claims.Role)
	if err != nil {
		return settlement.Party{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return settlement.Party{ID: userID, Role: role, Email: claims.Email}, nil
}

// Middleware rejects requests without a valid bearer token and stores the caller on the context.
func Middleware(validator *Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err == nil {
			var party settlement.Party
			party, err = validator.Validate(token)
			if err == nil {
				c.Set(principalKey, party)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": errorCodeAuth, "message": err.Error()}})
	}
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...settlement.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		party, ok := Principal(c)
		if ok {
			for _, role := range roles {
				if party.Role == role {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": gin.H{"code": errorCodeForbidden, "message": "role not allowed"}})
	}
}

// Principal returns the authenticated caller.
func Principal(c *gin.Context) (settlement.Party, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return settlement.Party{}, false
	}
	party, ok := value.(settlement.Party)
	return party, ok
}

func bearerToken(header string) (string, error) {
	trimmed := strings.TrimSpace(header)
	if len(trimmed) <= len(bearerPrefix) || !strings.EqualFold(trimmed[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(trimmed[len(bearerPrefix):]), nil
}
