package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"

	"github.com/desertthunder/ytsync/internal/server"
	"github.com/desertthunder/ytsync/internal/services"
	"github.com/desertthunder/ytsync/internal/shared"
)

const authTimeout = 2 * time.Minute

// AuthLogin runs the OAuth2 authorization code flow and saves the resulting token to the config file.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	flow, err := services.NewYouTubeOAuth(r.config.Credentials.YouTube)
	if err != nil {
		return err
	}

	token, err := r.doOAuth(ctx, flow)
	if err != nil {
		return err
	}

	if err := r.config.Credentials.YouTube.Update(token); err != nil {
		return err
	}
	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		return err
	}

	r.logger.Info("authentication successful", "expires", token.Expiry)
	r.writePlain("✓ Authentication successful\n")
	return r.writePlain("Token saved to: %s\n", r.configPath)
}

// AuthStatus reports which credentials are configured without calling the API.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	yt := r.config.Credentials.YouTube

	r.writePlainHeader("YouTube credentials")
	switch {
	case yt.HasOAuthClient():
		r.writePlain("OAuth client: ✓ %s\n", yt.ClientID)
	default:
		r.writePlain("OAuth client: ✗ not configured\n")
	}

	if token := yt.Token(); token != nil {
		switch {
		case token.Expiry.IsZero():
			r.writePlain("Token: ✓ saved\n")
		case token.Expiry.Before(r.clock()):
			r.writePlain("Token: ⚠ expired %s", token.Expiry.Format(time.RFC3339))
			if token.RefreshToken != "" {
				r.writePlain(" (will refresh on next call)")
			}
			r.writePlain("\n")
		default:
			r.writePlain("Token: ✓ valid until %s\n", token.Expiry.Format(time.RFC3339))
		}
	} else {
		r.writePlain("Token: ✗ none, run 'ytsync auth login'\n")
	}

	if yt.APIKey != "" {
		r.writePlain("API key: ✓ set (public playlists only)\n")
	} else {
		r.writePlain("API key: ✗ not set\n")
	}

	if !yt.HasOAuthClient() && yt.APIKey == "" {
		return fmt.Errorf("%w: set credentials.youtube in %s", shared.ErrMissingCredentials, r.configPath)
	}
	return nil
}

// doOAuth serves the callback route locally, opens the consent page and waits for the token.
func (r *Runner) doOAuth(ctx context.Context, oauthSrv services.OAuthService) (*oauth2.Token, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	authURL := oauthSrv.GetAuthURL(state)
	oauthHandler := server.NewOAuthHandler(oauthSrv.GetOAuthConfig(), state)
	router := server.NewBasicRouter()
	router.Use(server.Recover(r.logger))
	router.Handler(oauthHandler)

	serverAddr := r.callbackAddr()
	ln, err := net.Listen("tcp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", serverAddr, err)
	}

	srvCtx, stop := context.WithCancel(ctx)
	defer stop()

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth server at %v", serverAddr)
		serverErrors <- server.New(serverAddr, router, r.logger).Serve(srvCtx, ln)
	}()

	r.writePlain("→ Opening browser for Google authorization...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (2 minute timeout)...\n")

	timeout := time.NewTimer(authTimeout)
	defer timeout.Stop()

	var result server.OAuthResult

	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return nil, fmt.Errorf("%w: authorization timed out after 2 minutes", shared.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	stop()
	if err := <-serverErrors; err != nil {
		r.logger.Warn("error shutting down server", "error", err)
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Error())
	}

	if result.Token == nil {
		return nil, fmt.Errorf("%w: no token received", shared.ErrAuthFailed)
	}

	return result.Token, nil
}

// callbackAddr is the host:port of the configured redirect URI, falling back to the server section.
func (r *Runner) callbackAddr() string {
	if u, err := url.Parse(r.config.Credentials.YouTube.RedirectURI); err == nil && u.Host != "" {
		if u.Port() != "" {
			return u.Host
		}
		return net.JoinHostPort(u.Hostname(), "80")
	}
	return net.JoinHostPort(r.config.Server.Host, fmt.Sprint(r.config.Server.Port))
}
