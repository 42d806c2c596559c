package token_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/drover/pkg/domain/types"
	"github.com/m-mizutani/drover/pkg/utils/token"
)

func TestSigner_SignAndVerify(t *testing.T) {
	signer := token.NewSigner([]byte("test-secret"), time.Minute)
	artifactID := types.NewArtifactID()

	raw, err := signer.Sign(artifactID)
	gt.NoError(t, err)
	gt.Value(t, raw).NotEqual("")

	gt.NoError(t, signer.Verify(raw, artifactID))
}

func TestSigner_Verify_WrongArtifact(t *testing.T) {
	signer := token.NewSigner([]byte("test-secret"), time.Minute)

	raw, err := signer.Sign(types.NewArtifactID())
	gt.NoError(t, err)

	err = signer.Verify(raw, types.NewArtifactID())
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, types.ErrTagUnauthorized))
}

func TestSigner_Verify_Expired(t *testing.T) {
	// Negative TTL issues an already expired token
	signer := token.NewSigner([]byte("test-secret"), -time.Minute)
	artifactID := types.NewArtifactID()

	raw, err := signer.Sign(artifactID)
	gt.NoError(t, err)

	err = signer.Verify(raw, artifactID)
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, types.ErrTagExpired))
}

func TestSigner_Verify_WrongSecret(t *testing.T) {
	artifactID := types.NewArtifactID()

	raw, err := token.NewSigner([]byte("secret-a"), time.Minute).Sign(artifactID)
	gt.NoError(t, err)

	err = token.NewSigner([]byte("secret-b"), time.Minute).Verify(raw, artifactID)
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, types.ErrTagUnauthorized))
}

func TestSigner_Verify_Garbage(t *testing.T) {
	signer := token.NewSigner([]byte("test-secret"), time.Minute)

	err := signer.Verify("not-a-token", types.NewArtifactID())
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, types.ErrTagUnauthorized))
}
