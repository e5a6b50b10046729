package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAPIURL is the production Helix endpoint.
const DefaultAPIURL = "https://api.twitch.tv/helix"

// HelixClient resolves display names through the Twitch Helix users
// endpoint. Failures are surfaced to the caller, which falls back to a
// placeholder name; this client never blocks scoring for long thanks to the
// bounded request timeout.
type HelixClient struct {
	apiURL   string
	clientID string
	token    string
	http     *http.Client
}

func NewHelixClient(apiURL, clientID, token string) *HelixClient {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &HelixClient{
		apiURL:   strings.TrimRight(apiURL, "/"),
		clientID: clientID,
		token:    token,
		http:     &http.Client{Timeout: 5 * time.Second},
	}
}

type usersResponse struct {
	Data []struct {
		DisplayName string `json:"display_name"`
		Login       string `json:"login"`
	} `json:"data"`
}

// DisplayName looks up the display name behind an authenticated opaque key.
// Twitch authenticated opaque IDs are the user ID with a "U" prefix.
func (c *HelixClient) DisplayName(ctx context.Context, externalKey string) (string, error) {
	userID := strings.TrimPrefix(externalKey, "U")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.apiURL+"/users?id="+url.QueryEscape(userID), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Client-ID", c.clientID)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("helix users request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("helix users request: status %d", resp.StatusCode)
	}

	var body usersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode helix response: %w", err)
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("helix returned no user for id %s", userID)
	}
	if name := body.Data[0].DisplayName; name != "" {
		return name, nil
	}
	return body.Data[0].Login, nil
}
