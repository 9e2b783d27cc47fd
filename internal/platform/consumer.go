package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

type consumerBody struct {
	ExtConsumerID string            `json:"ext_consumer_id"`
	Profile       *Profile          `json:"profile,omitempty"`
	Context       map[string]string `json:"context,omitempty"`
}

type consumerResponse struct {
	Token string `json:"token"`
}

// RegisterConsumer creates a consumer identity and returns its JWS. A fresh
// external id is generated when the request carries none.
func (c *Client) RegisterConsumer(ctx context.Context, accountID, appToken string, req ConsumerRequest) (*Consumer, error) {
	if appToken == "" {
		return nil, fmt.Errorf("platform: register consumer: app token is required")
	}
	extID := req.ExternalConsumerID
	if extID == "" {
		extID = uuid.NewString()
	}

	u, err := c.serviceURL(ctx, accountID, ServiceIDP,
		fmt.Sprintf("/api/account/%s/consumer?v=1.0", url.PathEscape(accountID)))
	if err != nil {
		return nil, err
	}

	var out consumerResponse
	err = c.do(ctx, "register_consumer", http.MethodPost, u,
		map[string]string{"Authorization": appToken},
		consumerBody{ExtConsumerID: extID, Profile: req.Profile, Context: req.Context}, &out)
	if err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, fmt.Errorf("platform: register consumer: empty token")
	}

	sub, err := ConsumerSubject(out.Token)
	if err != nil {
		return nil, err
	}
	return &Consumer{Token: out.Token, PlatformConsumerID: sub, ExternalConsumerID: extID}, nil
}
