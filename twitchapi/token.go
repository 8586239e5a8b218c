// Package twitchapi obtains the user access token the relay bot logs in with.
package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// TokenURL is Twitch's OAuth token endpoint.
const TokenURL = "https://id.twitch.tv/oauth2/token"

// BotTokenSource exchanges a stored refresh token for a fresh bot access token.
// NOTE: chat requires a user token with chat:read/chat:edit scopes; an app
// (client credentials) token cannot log in to IRC.
type BotTokenSource struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// TokenURL overrides the token endpoint (tests).
	TokenURL   string
	HTTPClient *http.Client
}

// Token performs a refresh_token grant.
func (b *BotTokenSource) Token(ctx context.Context) (*oauth2.Token, error) {
	if b.ClientID == "" || b.ClientSecret == "" || b.RefreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	tokenURL := b.TokenURL
	if tokenURL == "" {
		tokenURL = TokenURL
	}
	conf := &oauth2.Config{
		ClientID:     b.ClientID,
		ClientSecret: b.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	if b.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
	}
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: b.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("twitch refresh failed: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("empty access_token in twitch response")
	}
	return tok, nil
}

// ChatPassword formats an access token as the IRC PASS value.
func ChatPassword(tok *oauth2.Token) string {
	if strings.HasPrefix(tok.AccessToken, "oauth:") {
		return tok.AccessToken
	}
	return "oauth:" + tok.AccessToken
}
