package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const defaultResolveTimeout = 10 * time.Second

var ErrGatewayUnavailable = errors.New("identity gateway unavailable")

// HTTPGateway resolves identities against a remote session gateway over
// HTTP: POST {baseURL}/resolve with the credentials, expecting a JSON body
// with the stable account identifier.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway creates a gateway client for the given base URL.
func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultResolveTimeout},
	}
}

func (g *HTTPGateway) ResolveIdentity(ctx context.Context, creds Credentials) (uuid.UUID, error) {
	body, err := json.Marshal(map[string]string{
		"email":  creds.Email,
		"secret": creds.Secret,
	})
	if err != nil {
		return uuid.Nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/resolve", bytes.NewReader(body))
	if err != nil {
		return uuid.Nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(req)
	if err != nil {
		return uuid.Nil, errors.Join(ErrGatewayUnavailable, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return uuid.Nil, ErrAuthenticationFailed
	default:
		return uuid.Nil, errors.Join(ErrGatewayUnavailable, errors.New(res.Status))
	}

	var payload struct {
		AccountID uuid.UUID `json:"account_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return uuid.Nil, errors.Join(ErrGatewayUnavailable, err)
	}
	if payload.AccountID == uuid.Nil {
		return uuid.Nil, ErrAuthenticationFailed
	}
	return payload.AccountID, nil
}
