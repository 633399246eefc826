// YouTube Data API v3 [CollectionClient] implementation
//
// Playlists map to collections and playlist items to members. Every call is metered
// by the quota ledger one level up, so this client never retries on its own.
package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
)

const (
	defaultPageSize = 50
	defaultTimeout  = 30 * time.Second
)

var (
	collectionParts = []string{"snippet", "contentDetails"}
	memberParts     = []string{"snippet", "contentDetails"}
	videoParts      = []string{"snippet", "contentDetails"}
)

// YouTubeOptions configures a [YouTubeService].
type YouTubeOptions struct {
	Credentials shared.YouTubeConfig
	BaseURL     string        // overrides the API endpoint, used by tests
	Timeout     time.Duration // per-call deadline
	PageSize    int
	HTTPClient  *http.Client // used as-is; the caller is responsible for authorization
	Logger      *log.Logger

	// OnToken is called with every refreshed OAuth token so it can be persisted.
	OnToken func(*oauth2.Token)
}

// YouTubeService implements [CollectionClient] over the YouTube Data API.
type YouTubeService struct {
	svc      *youtube.Service
	tokens   *tokenSource
	oauth    *oauth2.Config
	timeout  time.Duration
	pageSize int64
	logger   *log.Logger
}

// NewYouTubeService creates a client authorized with the saved OAuth token when one exists, falling back to the API key.
func NewYouTubeService(ctx context.Context, opts YouTubeOptions) (*YouTubeService, error) {
	s := &YouTubeService{
		timeout:  opts.Timeout,
		pageSize: int64(opts.PageSize),
		logger:   opts.Logger,
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	if s.pageSize <= 0 || s.pageSize > MaxBatchSize {
		s.pageSize = defaultPageSize
	}
	if s.logger == nil {
		s.logger = shared.DiscardLogger()
	}

	creds := opts.Credentials
	if creds.HasOAuthClient() {
		s.oauth = OAuthConfig(creds)
	}

	var clientOpts []option.ClientOption
	switch {
	case opts.HTTPClient != nil:
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	case s.oauth != nil && creds.Token() != nil:
		s.tokens = &tokenSource{ctx: ctx, config: s.oauth, token: creds.Token(), onToken: opts.OnToken}
		clientOpts = append(clientOpts, option.WithHTTPClient(oauth2.NewClient(ctx, s.tokens)))
	case creds.APIKey != "":
		clientOpts = append(clientOpts, option.WithAPIKey(creds.APIKey))
	default:
		return nil, fmt.Errorf("%w: configure an OAuth client and run `ytsync auth login`, or set an api_key", shared.ErrMissingCredentials)
	}

	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(strings.TrimSuffix(opts.BaseURL, "/")+"/"))
	}

	svc, err := youtube.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube client: %w", err)
	}
	s.svc = svc
	return s, nil
}

// Name returns the provider name.
func (s *YouTubeService) Name() string {
	return "YouTube"
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *YouTubeService) GetAuthURL(state string) string {
	if s.oauth == nil {
		return ""
	}
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// GetOAuthConfig returns the OAuth2 client configuration, or nil when only an API key is configured.
func (s *YouTubeService) GetOAuthConfig() *oauth2.Config {
	return s.oauth
}

// GetCollectionMetadata fetches a playlist by id.
func (s *YouTubeService) GetCollectionMetadata(ctx context.Context, remoteID string) (*models.RemoteCollection, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.svc.Playlists.List(collectionParts).Id(remoteID).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("%w: %s", shared.ErrCollectionNotFound, remoteID)
	}

	p := resp.Items[0]
	rc := &models.RemoteCollection{RemoteID: p.Id}
	if p.Snippet != nil {
		rc.Title = p.Snippet.Title
		rc.Description = p.Snippet.Description
		rc.ChannelTitle = p.Snippet.ChannelTitle
	}
	if p.ContentDetails != nil {
		rc.ItemCount = int(p.ContentDetails.ItemCount)
	}
	return rc, nil
}

// GetMembershipPage fetches one page of playlist items.
func (s *YouTubeService) GetMembershipPage(ctx context.Context, remoteID, pageToken string) (*models.MembershipPage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	call := s.svc.PlaylistItems.List(memberParts).PlaylistId(remoteID).MaxResults(s.pageSize)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	page := &models.MembershipPage{
		Items:         make([]models.RemoteMember, 0, len(resp.Items)),
		NextPageToken: resp.NextPageToken,
	}
	if resp.PageInfo != nil {
		page.TotalResults = int(resp.PageInfo.TotalResults)
	}

	for _, item := range resp.Items {
		m, ok := memberFromItem(item)
		if !ok {
			s.logger.Debug("skipping playlist item without a video id", "playlist", remoteID, "item", item.Id)
			continue
		}
		page.Items = append(page.Items, m)
	}
	return page, nil
}

// GetItemDetailsBatch fetches video details for up to [MaxBatchSize] ids.
func (s *YouTubeService) GetItemDetailsBatch(ctx context.Context, remoteIDs []string) ([]*models.Video, error) {
	if len(remoteIDs) == 0 {
		return nil, nil
	}
	if len(remoteIDs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d ids exceeds batch size %d", shared.ErrInvalidArgument, len(remoteIDs), MaxBatchSize)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.svc.Videos.List(videoParts).Id(remoteIDs...).MaxResults(int64(len(remoteIDs))).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	videos := make([]*models.Video, 0, len(resp.Items))
	for _, item := range resp.Items {
		v, err := videoFromItem(item)
		if err != nil {
			s.logger.Warn("skipping malformed video", "video", item.Id, "error", err)
			continue
		}
		videos = append(videos, v)
	}
	return videos, nil
}

// RefreshCredentials exchanges the refresh token for a new access token.
func (s *YouTubeService) RefreshCredentials(ctx context.Context) error {
	if s.tokens == nil {
		return fmt.Errorf("%w: no OAuth token configured", shared.ErrNoRefreshToken)
	}
	if err := s.tokens.Refresh(ctx); err != nil {
		return err
	}
	s.logger.Info("refreshed youtube access token")
	return nil
}

func memberFromItem(item *youtube.PlaylistItem) (models.RemoteMember, bool) {
	var m models.RemoteMember
	if item.ContentDetails != nil {
		m.RemoteVideoID = item.ContentDetails.VideoId
	}
	if item.Snippet != nil {
		m.Position = int(item.Snippet.Position)
		m.Title = item.Snippet.Title
		if m.RemoteVideoID == "" && item.Snippet.ResourceId != nil {
			m.RemoteVideoID = item.Snippet.ResourceId.VideoId
		}
	}
	return m, m.RemoteVideoID != ""
}

func videoFromItem(item *youtube.Video) (*models.Video, error) {
	if item.Snippet == nil {
		return nil, fmt.Errorf("%w: missing snippet", shared.ErrInvalidInput)
	}

	v := models.NewVideo(item.Id, item.Snippet.Title)
	v.Description = item.Snippet.Description
	v.ChannelTitle = item.Snippet.ChannelTitle
	v.ThumbnailURL = bestThumbnail(item.Snippet.Thumbnails)

	if item.Snippet.PublishedAt != "" {
		published, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: published_at %q", shared.ErrInvalidInput, item.Snippet.PublishedAt)
		}
		published = published.UTC()
		v.PublishedAt = &published
	}

	if item.ContentDetails != nil && item.ContentDetails.Duration != "" {
		d, err := ParseDuration(item.ContentDetails.Duration)
		if err != nil {
			return nil, err
		}
		v.Duration = d
	}

	return v, v.Validate()
}

func bestThumbnail(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*youtube.Thumbnail{t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

// OAuthConfig returns the Google OAuth2 configuration for read-only YouTube access.
func OAuthConfig(c shared.YouTubeConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       []string{youtube.YoutubeReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

// YouTubeOAuth runs the authorization code flow for the configured OAuth client.
// Unlike [YouTubeService] it needs no saved token, so it is what `auth login` uses.
type YouTubeOAuth struct {
	config *oauth2.Config
}

// NewYouTubeOAuth returns the OAuth flow for creds, which must carry a client id and secret.
func NewYouTubeOAuth(creds shared.YouTubeConfig) (*YouTubeOAuth, error) {
	if !creds.HasOAuthClient() {
		return nil, fmt.Errorf("%w: client_id and client_secret are required for OAuth", shared.ErrMissingCredentials)
	}
	return &YouTubeOAuth{config: OAuthConfig(creds)}, nil
}

// GetAuthURL returns the consent URL. Offline access with forced approval makes Google issue a refresh token.
func (o *YouTubeOAuth) GetAuthURL(state string) string {
	return o.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// GetOAuthConfig returns the OAuth2 client configuration.
func (o *YouTubeOAuth) GetOAuthConfig() *oauth2.Config {
	return o.config
}

// tokenSource is an [oauth2.TokenSource] that can be forced to refresh.
type tokenSource struct {
	mu      sync.Mutex
	ctx     context.Context
	config  *oauth2.Config
	token   *oauth2.Token
	onToken func(*oauth2.Token)
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token.Valid() {
		return s.token, nil
	}
	return s.refresh(s.ctx)
}

// Refresh discards the current access token and fetches a new one.
func (s *tokenSource) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.refresh(ctx)
	return err
}

func (s *tokenSource) refresh(ctx context.Context) (*oauth2.Token, error) {
	if s.token == nil || s.token.RefreshToken == "" {
		return nil, shared.ErrNoRefreshToken
	}

	stale := &oauth2.Token{RefreshToken: s.token.RefreshToken}
	token, err := s.config.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrRefreshFailed, err)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = s.token.RefreshToken
	}

	s.token = token
	if s.onToken != nil {
		s.onToken(token)
	}
	return token, nil
}
