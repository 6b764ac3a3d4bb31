/**
 * @description
 * This package provides a client for the user-service internal API. The ticket-service
 * uses it to resolve a ticket owner's display data, or a transfer recipient's id,
 * when the local owner projection has not yet seen the user.
 */
package userclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUserNotFound is returned when the user service answers 404.
var ErrUserNotFound = errors.New("user not found")

// Client is a client for the user service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new user service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// User is the subset of the user-service profile the ticket-service needs.
// The user service has shipped ids both as numbers and as strings.
type User struct {
	ID        json.Number `json:"id"`
	Email     string      `json:"email"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
}

// NumericID parses the user id.
func (u *User) NumericID() (int64, error) {
	return strconv.ParseInt(strings.Trim(u.ID.String(), "\" "), 10, 64)
}

// GetUserByID fetches a user profile by id.
func (c *Client) GetUserByID(ctx context.Context, userID int64) (*User, error) {
	return c.getUser(ctx, fmt.Sprintf("%s/internal/users/%d", c.baseURL, userID))
}

// GetUserByEmail fetches a user profile by email address.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	endpoint := fmt.Sprintf("%s/internal/users/by-email?email=%s", c.baseURL, url.QueryEscape(strings.TrimSpace(email)))
	return c.getUser(ctx, endpoint)
}

func (c *Client) getUser(ctx context.Context, endpoint string) (*User, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("user service base url is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to user service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("user service returned error status %d", resp.StatusCode)
	}

	var user User
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &user, nil
}
