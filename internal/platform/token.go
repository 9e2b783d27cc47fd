package platform

import (
	"context"
	"fmt"
	"net/url"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AppToken returns the application bearer token for an account. Token
// sources are kept per account and refresh themselves on expiry.
func (c *Client) AppToken(ctx context.Context, accountID string) (string, error) {
	ts, err := c.tokenSource(ctx, accountID)
	if err != nil {
		return "", err
	}
	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("platform: app token for %s: %w", accountID, err)
	}
	return tok.AccessToken, nil
}

func (c *Client) tokenSource(ctx context.Context, accountID string) (oauth2.TokenSource, error) {
	c.mu.Lock()
	ts, ok := c.tokens[accountID]
	c.mu.Unlock()
	if ok {
		return ts, nil
	}

	tokenURL, err := c.serviceURL(ctx, accountID, ServiceSentinel,
		fmt.Sprintf("/sentinel/api/account/%s/app/token?v=1.0", url.PathEscape(accountID)))
	if err != nil {
		return nil, err
	}

	cc := &clientcredentials.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	// The token source outlives ctx.
	tctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.http)
	ts = cc.TokenSource(tctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.tokens[accountID]; ok {
		return existing, nil
	}
	c.tokens[accountID] = ts
	return ts, nil
}

// ConsumerSubject extracts the platform consumer id (the "sub" claim) from a
// consumer JWS without verifying its signature.
func ConsumerSubject(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("platform: parse consumer token: %w", err)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("platform: consumer token has no sub claim")
	}
	return sub, nil
}
