package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/zulandar/convoy/internal/logging"
	"go.uber.org/zap"
)

type baseURIResponse struct {
	Service string `json:"service"`
	Account string `json:"account"`
	BaseURI string `json:"baseURI"`
}

// ResolveDomain looks up the host for a service, caching answers for the
// configured TTL. Unknown services resolve to "".
func (c *Client) ResolveDomain(ctx context.Context, accountID, service string) (string, error) {
	key := accountID + ":" + service
	if domain, ok := c.domains.Get(key); ok {
		return domain, nil
	}

	u := fmt.Sprintf("%s://%s/api/account/%s/service/%s/baseURI.json?version=1.0",
		c.scheme, c.resolver, url.PathEscape(accountID), url.PathEscape(service))

	var out baseURIResponse
	err := c.do(ctx, "resolve_domain", http.MethodGet, u, nil, nil, &out)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		c.log.Warn("service domain not found", logging.Account(accountID), zap.String("service", service))
		return "", nil
	}
	if err != nil {
		return "", err
	}

	c.domains.Add(key, out.BaseURI)
	return out.BaseURI, nil
}
