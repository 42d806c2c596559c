package github_test

import (
	"os"
	"strconv"
	"testing"

	"github.com/m-mizutani/gt"

	githubinfra "github.com/m-mizutani/drover/pkg/infra/github"
)

func TestClient_New(t *testing.T) {
	// This test requires GitHub App credentials from environment variables
	appID := os.Getenv("TEST_GITHUB_APP_ID")
	installationID := os.Getenv("TEST_GITHUB_INSTALLATION_ID")
	privateKey := os.Getenv("TEST_GITHUB_PRIVATE_KEY")

	if appID == "" || installationID == "" || privateKey == "" {
		t.Skip("Test GitHub App credentials not provided via environment variables")
	}

	appIDInt, err := strconv.ParseInt(appID, 10, 64)
	gt.NoError(t, err)

	installationIDInt, err := strconv.ParseInt(installationID, 10, 64)
	gt.NoError(t, err)

	t.Run("load private key from content", func(t *testing.T) {
		client, err := githubinfra.NewClient(appIDInt, installationIDInt, []byte(privateKey))
		gt.NoError(t, err)
		gt.Value(t, client).NotNil()
	})

	t.Run("load private key from content string", func(t *testing.T) {
		client, err := githubinfra.NewClientFromConfig(appIDInt, installationIDInt, privateKey)
		gt.NoError(t, err)
		gt.Value(t, client).NotNil()
	})
}
