package dispatcharr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/voyagen/collectarr/internal/models"
)

const (
	defaultHTTPTimeout = 15 * time.Second

	// Dispatcharr access tokens live about 30 minutes; renew ahead of that.
	tokenTTL = 25 * time.Minute
)

// Client talks to a Dispatcharr server. Authentication is JWT based: the
// client logs in lazily, caches the access/refresh pair in memory and
// renews it transparently before expiry. Safe for concurrent use.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	mu        sync.Mutex
	access    string
	refresh   string
	expiresAt time.Time
}

// NewClient creates a Dispatcharr client. If timeout is zero, it defaults
// to 15 seconds.
func NewClient(baseURL, username, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenRefreshRequest struct {
	Refresh string `json:"refresh"`
}

type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// groupResponse is one entry of /api/channels/groups/.
type groupResponse struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	ChannelCount    int    `json:"channel_count"`
	M3UAccountCount int    `json:"m3u_account_count"`
}

// accountResponse is one entry of /api/m3u/accounts/.
type accountResponse struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	IsActive      bool        `json:"is_active"`
	ChannelGroups []groupLink `json:"channel_groups"`
}

// groupLink ties an M3U account to a channel group.
type groupLink struct {
	ChannelGroup    int64 `json:"channel_group"`
	Enabled         bool  `json:"enabled"`
	AutoChannelSync bool  `json:"auto_channel_sync"`
}

// ConnectionStatus summarizes a Dispatcharr connectivity test.
type ConnectionStatus struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	Accounts      int    `json:"accounts_count"`
	Groups        int    `json:"groups_count"`
	EnabledGroups int    `json:"enabled_groups_count"`
}

// ListEnabledGroups returns the channel groups eligible for auto-sync
// rules: local groups (no M3U account, at least one channel) plus groups
// linked to active accounts through enabled links, annotated with their
// account. Groups without channels are filtered out.
func (c *Client) ListEnabledGroups(ctx context.Context) ([]models.Group, error) {
	groups, err := c.fetchGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	enabled := make([]models.Group, 0, len(groups))
	for _, g := range groups {
		if g.M3UAccountCount == 0 && g.ChannelCount > 0 {
			enabled = append(enabled, models.Group{
				ID:           g.ID,
				Name:         g.Name,
				ChannelCount: g.ChannelCount,
			})
		}
	}

	accounts, err := c.fetchAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list m3u accounts: %w", err)
	}

	byID := make(map[int64]groupResponse, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}

	for _, acc := range accounts {
		if !acc.IsActive {
			continue
		}
		for _, link := range acc.ChannelGroups {
			if !link.Enabled {
				continue
			}
			g, ok := byID[link.ChannelGroup]
			if !ok {
				log.Printf("dispatcharr: account %q links unknown group %d", acc.Name, link.ChannelGroup)
				continue
			}
			if g.ChannelCount <= 0 {
				continue
			}
			accountID := acc.ID
			enabled = append(enabled, models.Group{
				ID:              g.ID,
				Name:            g.Name,
				ChannelCount:    g.ChannelCount,
				M3UAccountID:    &accountID,
				M3UAccountName:  acc.Name,
				AutoChannelSync: link.AutoChannelSync,
			})
		}
	}
	return enabled, nil
}

// ListGroupChannels returns the {number, name} channel list of one group.
// The endpoint may answer with a plain array or a paginated envelope; next
// links are followed until exhausted.
func (c *Client) ListGroupChannels(ctx context.Context, groupID int64) ([]models.GroupChannel, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/channels/channels/?channel_group=%d", c.baseURL, groupID)
	var out []models.GroupChannel
	for url != "" {
		status, data, err := c.do(ctx, http.MethodGet, url, nil, token)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("HTTP %d", status)
		}

		if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '[' {
			var page []models.GroupChannel
			if err := json.Unmarshal(data, &page); err != nil {
				return nil, fmt.Errorf("unmarshal channels: %w", err)
			}
			return append(out, page...), nil
		}

		var page struct {
			Results []models.GroupChannel `json:"results"`
			Next    string                `json:"next"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("unmarshal channels: %w", err)
		}
		out = append(out, page.Results...)
		url = page.Next
	}
	return out, nil
}

// RefreshAccount triggers a playlist refresh for one M3U account and waits
// for the server's acknowledgement. The wait is bounded by the client
// timeout and the caller's context.
func (c *Client) RefreshAccount(ctx context.Context, accountID int64) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/m3u/refresh/%d/", c.baseURL, accountID)
	status, _, err := c.do(ctx, http.MethodPost, url, struct{}{}, token)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return fmt.Errorf("HTTP %d", status)
	}
	return nil
}

// TestConnection authenticates from scratch and reports account and group
// counts. Failures are carried in the status rather than returned, so the
// result is always renderable.
func (c *Client) TestConnection(ctx context.Context) *ConnectionStatus {
	st := &ConnectionStatus{}

	c.mu.Lock()
	err := c.authenticateLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		st.Message = fmt.Sprintf("authentication failed: %v", err)
		return st
	}

	accounts, err := c.fetchAccounts(ctx)
	if err != nil {
		st.Message = fmt.Sprintf("list m3u accounts: %v", err)
		return st
	}
	st.Accounts = len(accounts)

	groups, err := c.fetchGroups(ctx)
	if err != nil {
		st.Message = fmt.Sprintf("list groups: %v", err)
		return st
	}
	st.Groups = len(groups)

	enabled, err := c.ListEnabledGroups(ctx)
	if err != nil {
		st.Message = fmt.Sprintf("list enabled groups: %v", err)
		return st
	}
	st.EnabledGroups = len(enabled)

	st.Success = true
	st.Message = fmt.Sprintf("connected, %d enabled groups", len(enabled))
	return st
}

func (c *Client) fetchGroups(ctx context.Context) ([]groupResponse, error) {
	var groups []groupResponse
	if err := c.getJSON(ctx, "/api/channels/groups/", &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (c *Client) fetchAccounts(ctx context.Context) ([]accountResponse, error) {
	var accounts []accountResponse
	if err := c.getJSON(ctx, "/api/m3u/accounts/", &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	status, data, err := c.do(ctx, http.MethodGet, c.baseURL+path, nil, token)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("HTTP %d", status)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// token returns a valid access token, authenticating or refreshing first
// when needed.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.access == "":
		if err := c.authenticateLocked(ctx); err != nil {
			return "", err
		}
	case !time.Now().Before(c.expiresAt):
		if err := c.refreshLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.access, nil
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	payload := tokenRequest{Username: c.username, Password: c.password}
	status, data, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/accounts/token/", payload, "")
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("authenticate: HTTP %d", status)
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return fmt.Errorf("authenticate: unmarshal response: %w", err)
	}
	if tr.Access == "" {
		return fmt.Errorf("authenticate: no access token in response")
	}

	c.access = tr.Access
	c.refresh = tr.Refresh
	c.expiresAt = time.Now().Add(tokenTTL)
	log.Printf("dispatcharr: authenticated as %s", c.username)
	return nil
}

// refreshLocked renews the access token via the refresh token; any failure
// falls back to a full re-authentication.
func (c *Client) refreshLocked(ctx context.Context) error {
	if c.refresh == "" {
		return c.authenticateLocked(ctx)
	}

	payload := tokenRefreshRequest{Refresh: c.refresh}
	status, data, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/accounts/token/refresh/", payload, "")
	if err != nil || status != http.StatusOK {
		if err != nil {
			log.Printf("dispatcharr: token refresh: %v, re-authenticating", err)
		} else {
			log.Printf("dispatcharr: token refresh: HTTP %d, re-authenticating", status)
		}
		return c.authenticateLocked(ctx)
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil || tr.Access == "" {
		log.Printf("dispatcharr: token refresh returned no access token, re-authenticating")
		return c.authenticateLocked(ctx)
	}

	c.access = tr.Access
	c.expiresAt = time.Now().Add(tokenTTL)
	return nil
}

// do sends one request. url is absolute so paginated next links can be
// followed as-is.
func (c *Client) do(ctx context.Context, method, url string, body any, token string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}
