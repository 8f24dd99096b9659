// Package trigger runs trigger instances against their integration
// descriptors: polling fetch/filter/normalize cycles, webhook payload
// normalization, and side-effect-free test runs.
package trigger

import (
	"context"
	"net/http"

	"github.com/zaplet/zaplet/pkg/models"
)

// Mode selects between a real run and a dry run. Test runs never move
// watermarks and never mutate stored state.
type Mode string

const (
	ModeLive Mode = "live"
	ModeTest Mode = "test"
)

const (
	// liveFetchLimit bounds one polling batch.
	liveFetchLimit = 100
	// testFetchLimit keeps trigger test runs small and fast.
	testFetchLimit = 3
)

// ClientProvider hands out authenticated HTTP clients for connections.
// The OAuth manager is the production implementation.
type ClientProvider interface {
	Client(ctx context.Context, connection *models.Connection) (*http.Client, error)
}

// clientFor resolves the HTTP client for a possibly connection-less
// trigger.
func clientFor(ctx context.Context, provider ClientProvider, connection *models.Connection) (*http.Client, error) {
	if connection == nil || provider == nil {
		return http.DefaultClient, nil
	}

	return provider.Client(ctx, connection)
}
