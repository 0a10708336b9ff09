package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"pressgate/pkg/auth"
	"pressgate/pkg/store"
)

var (
	// ErrInvalidToken covers bad signature, wrong issuer/audience, expiry
	// and token-type mismatch.
	ErrInvalidToken = errors.New("tokens: invalid token")
	// ErrRevokedOrExpired means the refresh session behind a structurally
	// valid token no longer exists; the whole rotation chain is dead.
	ErrRevokedOrExpired = errors.New("tokens: refresh session revoked or expired")
)

const (
	typAccess  = "access"
	typRefresh = "refresh"
)

// Pair is one issued access/refresh credential pair.
type Pair struct {
	AccessToken         string `json:"accessToken"`
	RefreshToken        string `json:"refreshToken"`
	TokenType           string `json:"tokenType"`
	AccessTokenTTLSecs  int64  `json:"accessTokenTtlSeconds"`
	RefreshTokenTTLSecs int64  `json:"refreshTokenTtlSeconds"`
}

type session struct {
	Actor    auth.Actor `json:"actor"`
	IssuedAt time.Time  `json:"issuedAt"`
}

// Issuer mints, verifies and rotates HS256 bearer token pairs. Refresh
// sessions live in the ephemeral store under the pair's jti, which makes
// every refresh token single-use: rotation deletes the session before the
// replacement pair is minted.
type Issuer struct {
	Secret     []byte
	IssuerName string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Sessions   store.Store

	now func() time.Time
}

func sessionKey(jti string) string { return "session:" + jti }

func (i *Issuer) clock() time.Time {
	if i.now != nil {
		return i.now()
	}
	return time.Now()
}

// Issue mints a fresh pair for actor and records the refresh session.
func (i *Issuer) Issue(ctx context.Context, actor auth.Actor) (Pair, error) {
	if len(i.Secret) == 0 {
		return Pair{}, errors.New("tokens: signing secret is required")
	}
	now := i.clock()
	accessClaims := jwt.MapClaims{
		"sub":  actor.ID,
		"role": actor.Role,
		"typ":  typAccess,
		"iss":  i.IssuerName,
		"aud":  i.Audience,
		"iat":  now.Unix(),
		"exp":  now.Add(i.AccessTTL).Unix(),
	}
	if actor.Email != "" {
		accessClaims["email"] = actor.Email
	}
	if actor.Username != "" {
		accessClaims["username"] = actor.Username
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(i.Secret)
	if err != nil {
		return Pair{}, fmt.Errorf("tokens: sign access: %w", err)
	}

	jti := uuid.NewString()
	refreshClaims := jwt.MapClaims{
		"sub":  actor.ID,
		"role": actor.Role,
		"typ":  typRefresh,
		"iss":  i.IssuerName,
		"aud":  i.Audience,
		"jti":  jti,
		"iat":  now.Unix(),
		"exp":  now.Add(i.RefreshTTL).Unix(),
	}
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(i.Secret)
	if err != nil {
		return Pair{}, fmt.Errorf("tokens: sign refresh: %w", err)
	}

	payload, err := json.Marshal(session{Actor: actor, IssuedAt: now})
	if err != nil {
		return Pair{}, err
	}
	if err := i.Sessions.Set(ctx, sessionKey(jti), string(payload), i.RefreshTTL); err != nil {
		return Pair{}, fmt.Errorf("tokens: record session: %w", err)
	}

	return Pair{
		AccessToken:         access,
		RefreshToken:        refresh,
		TokenType:           "Bearer",
		AccessTokenTTLSecs:  int64(i.AccessTTL.Seconds()),
		RefreshTokenTTLSecs: int64(i.RefreshTTL.Seconds()),
	}, nil
}

// VerifyAccess checks signature, issuer, audience, expiry and the access
// token-type discriminator, returning the embedded actor.
func (i *Issuer) VerifyAccess(token string) (auth.Actor, error) {
	claims, err := i.parse(token, typAccess)
	if err != nil {
		return auth.Actor{}, err
	}
	actor := auth.Actor{
		ID:       stringClaim(claims, "sub"),
		Role:     stringClaim(claims, "role"),
		Email:    stringClaim(claims, "email"),
		Username: stringClaim(claims, "username"),
	}
	if actor.ID == "" {
		return auth.Actor{}, ErrInvalidToken
	}
	return actor, nil
}

// Rotate exchanges a refresh token for a new pair. The old session is
// deleted before issuing, so a replayed refresh token fails closed with
// ErrRevokedOrExpired.
func (i *Issuer) Rotate(ctx context.Context, refreshToken string) (Pair, error) {
	claims, err := i.parse(refreshToken, typRefresh)
	if err != nil {
		return Pair{}, err
	}
	jti := stringClaim(claims, "jti")
	if jti == "" {
		return Pair{}, ErrInvalidToken
	}
	raw, err := i.Sessions.Get(ctx, sessionKey(jti))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Pair{}, ErrRevokedOrExpired
		}
		return Pair{}, fmt.Errorf("tokens: load session: %w", err)
	}
	var sess session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return Pair{}, fmt.Errorf("tokens: decode session: %w", err)
	}
	if sess.Actor.ID != stringClaim(claims, "sub") {
		return Pair{}, ErrRevokedOrExpired
	}
	if err := i.Sessions.Del(ctx, sessionKey(jti)); err != nil {
		return Pair{}, fmt.Errorf("tokens: revoke old session: %w", err)
	}
	return i.Issue(ctx, sess.Actor)
}

// Revoke deletes the session behind a refresh token. Logout must always
// succeed from the caller's perspective, so failures are only logged.
func (i *Issuer) Revoke(ctx context.Context, refreshToken string) {
	claims, err := i.parse(refreshToken, typRefresh)
	if err != nil {
		return
	}
	jti := stringClaim(claims, "jti")
	if jti == "" {
		return
	}
	if err := i.Sessions.Del(ctx, sessionKey(jti)); err != nil {
		log.Printf("tokens: revoke session %s: %v", jti, err)
	}
}

func (i *Issuer) parse(token, wantTyp string) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (interface{}, error) { return i.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.IssuerName),
		jwt.WithAudience(i.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if stringClaim(claims, "typ") != wantTyp {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}
