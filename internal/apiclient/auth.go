package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Login exchanges a username/password for an initial token pair.
func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/auth/login"), strings.NewReader(form.Encode()))
	if err != nil {
		return newErr(KindTransport, "login", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setStatus("login", err)
		return newErr(KindTransport, "login", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := newErr(KindAuth, "login", fmt.Errorf("server returned %d", resp.StatusCode))
		c.setStatus("login", err)
		c.session.clear()
		return err
	}

	var pair tokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		err := newErr(KindProtocol, "login", err)
		c.setStatus("login", err)
		return err
	}

	c.session.set(pair.AccessToken, pair.RefreshToken)
	c.session.touchAuthCheck()
	c.setStatus("login", nil)
	return nil
}

// refresh exchanges the refresh token for a new pair. On failure it clears
// the cached tokens so the next wrapped call surfaces a clean auth error
// instead of retrying a token that is known dead.
func (c *Client) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	_, refreshToken, _ := c.session.get()
	if refreshToken == "" {
		return newErr(KindAuth, "refresh", fmt.Errorf("no refresh token available"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/auth/refresh"), nil)
	if err != nil {
		return newErr(KindTransport, "refresh", err)
	}
	req.Header.Set("refresh", refreshToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.session.clear()
		return newErr(KindTransport, "refresh", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.session.clear()
		return newErr(KindAuth, "refresh", fmt.Errorf("server returned %d", resp.StatusCode))
	}

	var pair tokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		c.session.clear()
		return newErr(KindProtocol, "refresh", err)
	}

	c.session.set(pair.AccessToken, pair.RefreshToken)
	return nil
}

// pingAuth performs the cheap GET /auth/ping check the auth envelope wraps
// every non-auth verb in.
func (c *Client) pingAuth(ctx context.Context) error {
	access, _, _ := c.session.get()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/auth/ping"), nil)
	if err != nil {
		return newErr(KindTransport, "ping_auth", err)
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newErr(KindTransport, "ping_auth", err)
	}
	defer resp.Body.Close()

	c.session.touchAuthCheck()

	if resp.StatusCode == http.StatusUnauthorized {
		return newErr(KindAuth, "ping_auth", fmt.Errorf("unauthorized"))
	}
	if resp.StatusCode != http.StatusOK {
		return newErr(KindTransport, "ping_auth", fmt.Errorf("server returned %d", resp.StatusCode))
	}
	return nil
}

// PingAuth re-validates the current session against the server, for the
// Controller's is_logged_in() cache-refresh path.
func (c *Client) PingAuth(ctx context.Context) error {
	return c.pingAuth(ctx)
}

// LoggedIn reports the cached session state without a network round trip.
func (c *Client) LoggedIn() bool {
	return c.session.LoggedIn()
}

// LastAuthCheck is the timestamp of the last successful/attempted auth ping.
func (c *Client) LastAuthCheck() time.Time {
	return c.session.LastAuthCheck()
}

func (c *Client) bearerRequest(ctx context.Context, method, urlStr string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, err
	}
	access, _, _ := c.session.get()
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	return req, nil
}
