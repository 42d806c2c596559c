package token

import (
	"errors"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/drover/pkg/domain/types"
)

// Signer issues and verifies the short-lived tokens embedded in artifact
// download URLs. Tokens are HMAC-signed JWTs bound to a single artifact,
// so a listing response can hand out working links without exposing the
// store itself.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewSigner creates a Signer. ttl bounds how long issued links stay valid.
func NewSigner(secret []byte, ttl time.Duration) *Signer {
	return &Signer{
		secret: secret,
		issuer: types.AppName,
		ttl:    ttl,
	}
}

// Sign issues a download token for one artifact.
func (s *Signer) Sign(artifactID types.ArtifactID) (string, error) {
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Issuer(s.issuer).
		Subject(artifactID.String()).
		IssuedAt(now).
		Expiration(now.Add(s.ttl)).
		Build()
	if err != nil {
		return "", goerr.Wrap(err, "failed to build download token")
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.secret))
	if err != nil {
		return "", goerr.Wrap(err, "failed to sign download token")
	}
	return string(signed), nil
}

// Verify checks signature and expiry, and confirms the token was issued
// for artifactID.
func (s *Signer) Verify(raw string, artifactID types.ArtifactID) error {
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, s.secret),
		jwt.WithValidate(true),
		jwt.WithIssuer(s.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return goerr.Wrap(err, "download token expired",
				goerr.T(types.ErrTagExpired))
		}
		return goerr.Wrap(err, "invalid download token",
			goerr.T(types.ErrTagUnauthorized))
	}

	if tok.Subject() != artifactID.String() {
		return goerr.New("download token issued for another artifact",
			goerr.T(types.ErrTagUnauthorized))
	}
	return nil
}
