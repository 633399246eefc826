// package services defines the remote collection client and its YouTube Data API implementation
package services

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/desertthunder/ytsync/internal/models"
)

// MaxBatchSize is the largest number of ids a single details request may carry.
const MaxBatchSize = 50

// CollectionClient fetches collection metadata, membership and item details from the remote platform.
//
// Implementations return the raw transport error on failure so the resilience layer can classify it.
type CollectionClient interface {
	// GetCollectionMetadata returns title, owner and item count for a remote collection.
	GetCollectionMetadata(ctx context.Context, remoteID string) (*models.RemoteCollection, error)

	// GetMembershipPage returns one page of membership. An empty pageToken requests the first page.
	GetMembershipPage(ctx context.Context, remoteID, pageToken string) (*models.MembershipPage, error)

	// GetItemDetailsBatch returns details for at most [MaxBatchSize] items.
	// Ids the platform no longer knows are omitted from the result.
	GetItemDetailsBatch(ctx context.Context, remoteIDs []string) ([]*models.Video, error)

	// RefreshCredentials forces a credential refresh after an authorization failure.
	RefreshCredentials(ctx context.Context) error
}

// OAuthService is implemented by providers that authorize through the OAuth2 authorization code flow.
type OAuthService interface {
	GetAuthURL(state string) string
	GetOAuthConfig() *oauth2.Config
}
