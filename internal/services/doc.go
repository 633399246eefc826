// Package services defines the [CollectionClient] interface for remote collection providers and implements it
// for the YouTube Data API v3.
//
// # Collection Client
//
// The sync engine only needs four remote operations: collection metadata, a paginated membership listing,
// batched item details and a credential refresh. [CollectionClient] captures exactly those so tests can
// substitute an in-memory fake.
//
// # YouTube Implementation
//
// [YouTubeService] wraps [youtube.Service]. Playlists are collections, playlist items are members and
// videos are the items they reference.
//
// Authorization uses the OAuth token saved by `ytsync auth login` when an OAuth client is configured,
// and otherwise the configured API key. OAuth tokens are refreshed automatically once expired; the resilience
// layer can also force a refresh through [YouTubeService.RefreshCredentials] after a 401.
//
// # OAuth Service Extension
//
// The [OAuthService] interface exposes the authorization URL and client configuration for the
// local callback flow handled by the server package.
//
// # Error Handling
//
// Transport and API failures are returned unwrapped (typically [googleapi.Error]) so that
// resilience.Classify can read status codes, reasons and Retry-After headers.
// Locally detected problems use typed errors from the shared package:
//   - [shared.ErrCollectionNotFound] : the playlist id resolved to no playlist
//   - [shared.ErrMissingCredentials] : neither an OAuth token nor an API key is configured
//   - [shared.ErrNoRefreshToken] : a refresh was requested without a refresh token
//   - [shared.ErrRefreshFailed] : the token endpoint rejected the refresh
//
// # API Mappings
//
// Video durations arrive as ISO 8601 strings ("PT4M13S") and are converted with [ParseDuration].
package services
