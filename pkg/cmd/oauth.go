package cmd

import (
	"log/slog"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/zaplet/zaplet/pkg/integrations/gmail"
	"github.com/zaplet/zaplet/pkg/oauth"
	"github.com/zaplet/zaplet/pkg/persistence"
)

// NewOAuthManager wires the OAuth providers from the environment. A
// provider is only registered when its client credentials are present,
// so deployments without Google credentials still start.
func NewOAuthManager(logger *slog.Logger, connections persistence.ConnectionRepository) *oauth.Manager {
	manager := oauth.NewManager(logger, connections)

	clientID := os.Getenv("GOOGLE_CLIENT_ID")
	clientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
	redirectURL := os.Getenv("OAUTH_REDIRECT_URL")

	if clientID != "" && clientSecret != "" {
		manager.RegisterProvider(gmail.ID, &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     endpoints.Google,
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.readonly",
				"https://www.googleapis.com/auth/gmail.send",
			},
		})
	}

	return manager
}
