package echoapi

import (
	"context"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/profile"
)

const (
	tokenContextKey   = "profileToken"
	profileContextKey = "profile"
	tokenAudience     = "Foundation"
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt  int64  `json:"oriat,omitempty"`
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	Role          string `json:"role,omitempty"`
	InstitutionID string `json:"institution_id,omitempty"`
}

func (c Claims) Person() core.Person {
	return core.Person{ID: c.Subject, Name: c.Name, Email: c.Email}
}

type authenticator struct {
	appName           string
	expirationDelta   time.Duration
	refreshExpiration time.Duration
	jwtConfig         middleware.JWTConfig
	profileSvc        profile.Service
}

func newAuthenticator(conf *core.Config, profileSvc profile.Service) *authenticator {
	return &authenticator{
		appName:           conf.AppName,
		expirationDelta:   conf.Server.JWTExpirationDelta,
		refreshExpiration: conf.Server.JWTRefreshExpirationDelta,
		jwtConfig: middleware.JWTConfig{
			SigningKey:    []byte(conf.SecretKey),
			SigningMethod: middleware.AlgorithmHS256,
			ContextKey:    tokenContextKey,
			Claims:        new(Claims),
		},
		profileSvc: profileSvc,
	}
}

func (a *authenticator) claims(p profile.Profile, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	oriat := nownix
	if len(origIat) > 0 {
		oriat = origIat[0]
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    a.appName,
			Subject:   p.ID,
			Audience:  tokenAudience,
			ExpiresAt: now.Add(a.expirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt:  oriat,
		Name:          p.Name,
		Email:         p.Email,
		Role:          p.Role,
		InstitutionID: p.InstitutionID,
	}
}

// generateToken generates a signed JWT token string representing the profile Claims.
func (a *authenticator) generateToken(claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(a.jwtConfig.SigningMethod)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString(a.jwtConfig.SigningKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// Token returns a fresh token for p.
func (a *authenticator) Token(p profile.Profile) (string, error) {
	return a.generateToken(a.claims(p))
}

func (a *authenticator) authenticate(ctx context.Context, email, pwd string) (string, error) {
	p, err := a.profileSvc.Authenticate(ctx, email, pwd)
	if err != nil {
		if errors.Cause(err) == profile.ErrInvalidCredentials {
			return "", errAuthenticationFailed
		}
		return "", errors.Wrap(err, "authenticating profile")
	}
	if !p.IsActive {
		return "", errAccountDeactivated
	}
	return a.Token(p)
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(tokenContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// getContextProfile loads the profile behind the request token, once per request.
func (a *authenticator) getContextProfile(ctx echo.Context, clms ...Claims) (profile.Profile, error) {
	if p, ok := ctx.Get(profileContextKey).(profile.Profile); ok {
		return p, nil
	}

	var claims Claims
	var err error
	if len(clms) > 0 {
		claims = clms[0]
	} else {
		claims, err = getContextClaims(ctx)
		if err != nil {
			return profile.Profile{}, errors.Wrap(err, "getting context claims")
		}
	}

	p, err := a.profileSvc.GetByID(ctx.Request().Context(), claims.Subject)
	if core.IsNotFound(err) {
		return profile.Profile{}, errUnauthorized
	}
	if err != nil {
		return profile.Profile{}, errors.Wrap(err, "finding profile by ID")
	}
	if !p.IsActive {
		return profile.Profile{}, errAccountDeactivated
	}
	ctx.Set(profileContextKey, p)
	return p, nil
}

func (a *authenticator) refreshToken(ctx echo.Context) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}

	p, err := a.getContextProfile(ctx, claims)
	if err != nil {
		return "", errors.Wrap(err, "getting context profile")
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(a.refreshExpiration)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	token, err := a.generateToken(a.claims(p, claims.OrigIssuedAt))
	return token, errors.Wrap(err, "generating token")
}
