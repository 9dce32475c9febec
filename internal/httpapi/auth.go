package httpapi

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"prompos/terminal/internal/domain"
)

const tokenIssuer = "prompos-terminal"

var errInvalidToken = errors.New("invalid or expired token")

// AuthManager issues and verifies the bearer tokens handed to the terminal UI
// after a successful sign-in.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

type terminalClaims struct {
	jwtlib.RegisteredClaims
	ShopID      string `json:"shop_id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"name,omitempty"`
	Provider    string `json:"provider"`
	Guest       bool   `json:"guest"`
}

func NewAuthManager(secret string, tokenTTL time.Duration) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

func (a *AuthManager) Issue(shopID string, id domain.Identity) (domain.LoginResponse, error) {
	if strings.TrimSpace(id.UID) == "" {
		return domain.LoginResponse{}, errors.New("identity uid required")
	}
	issuedAt := a.now().UTC()
	expiresAt := issuedAt.Add(a.tokenTTL)
	claims := terminalClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   id.UID,
			IssuedAt:  jwtlib.NewNumericDate(issuedAt),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		ShopID:      shopID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Provider:    id.Provider,
		Guest:       id.IsGuest,
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Identity:    id,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken returns the identity a token was issued for. Tokens minted for a
// different shop are rejected.
func (a *AuthManager) ParseToken(tokenStr string, shopID string) (domain.Identity, error) {
	claims := &terminalClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return domain.Identity{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Identity{}, errors.New("invalid token subject")
	}
	if claims.ShopID != shopID {
		return domain.Identity{}, errInvalidToken
	}
	return domain.Identity{
		UID:         sub,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		Provider:    claims.Provider,
		IsGuest:     claims.Guest,
	}, nil
}
