package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// GroupsClient pages through the IdP admin API group tree using a
// client-credentials service token. The token is cached across calls; a 401
// from the admin API refreshes it once before the call fails.
type GroupsClient struct {
	httpClient   *http.Client
	tokenURL     string
	groupsURL    string
	clientID     string
	clientSecret string

	mu    sync.Mutex
	token string
}

// NewGroupsClient wires a client against the IdP. issuerURL is the realm URL
// the token endpoint hangs off; adminBaseURL is the admin API root. A nil
// httpClient uses http.DefaultClient.
func NewGroupsClient(httpClient *http.Client, issuerURL, adminBaseURL, clientID, clientSecret string) *GroupsClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GroupsClient{
		httpClient:   httpClient,
		tokenURL:     strings.TrimSuffix(issuerURL, "/") + "/protocol/openid-connect/token",
		groupsURL:    strings.TrimSuffix(adminBaseURL, "/") + "/groups",
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// Groups implements GroupsAPI. nextPage is non-nil when the page came back
// full and another may follow.
func (c *GroupsClient) Groups(ctx context.Context, nameLike string, page, pageSize int) ([]string, *int, error) {
	names, expired, err := c.fetchGroups(ctx, nameLike, page, pageSize, false)
	if expired {
		names, _, err = c.fetchGroups(ctx, nameLike, page, pageSize, true)
	}
	if err != nil {
		return nil, nil, err
	}

	var nextPage *int
	if len(names) >= pageSize {
		next := page + 1
		nextPage = &next
	}
	return names, nextPage, nil
}

// fetchGroups performs one admin API call. expired reports a 401 on a cached
// token, the signal to refresh and retry.
func (c *GroupsClient) fetchGroups(ctx context.Context, nameLike string, page, pageSize int, refresh bool) (names []string, expired bool, err error) {
	token, cached, err := c.serviceToken(ctx, refresh)
	if err != nil {
		return nil, false, err
	}

	query := url.Values{}
	query.Set("max", strconv.Itoa(pageSize))
	query.Set("first", strconv.Itoa(page*pageSize))
	if nameLike != "" {
		query.Set("search", nameLike)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.groupsURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("directory: groups: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && cached {
		return nil, true, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("directory: groups returned %s", resp.Status)
	}

	// Group schema: { "id", "name", "path", "subGroups" }; only names matter.
	var groups []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		return nil, false, fmt.Errorf("directory: decode groups: %w", err)
	}
	names = make([]string, 0, len(groups))
	for _, group := range groups {
		names = append(names, group.Name)
	}
	return names, false, nil
}

// serviceToken returns the cached service token, fetching a fresh one when
// absent or when refresh is set. cached reports whether the token predates
// this call.
func (c *GroupsClient) serviceToken(ctx context.Context, refresh bool) (token string, cached bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !refresh && c.token != "" {
		return c.token, true, nil
	}

	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("directory: token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false, fmt.Errorf("directory: token returned %s", resp.Status)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", false, fmt.Errorf("directory: decode token: %w", err)
	}
	if body.AccessToken == "" {
		return "", false, errors.New("directory: token response missing access_token")
	}
	c.token = body.AccessToken
	return c.token, false, nil
}
