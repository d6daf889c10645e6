package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"molva/internal/models"
)

// Client talks to the remote user-directory and messaging HTTP services.
// All calls are request/response; live traffic goes over the channel.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
	Bio      string `json:"bio"`
	IsActive bool   `json:"is_active"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserRecord is the directory wire shape for one user.
type UserRecord struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
	IsActive bool   `json:"is_active"`
}

type GroupRecord struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// HistoryRecord is the wire shape of one message from the history endpoint.
type HistoryRecord struct {
	ID        string               `json:"id"`
	Content   string               `json:"content"`
	SenderID  string               `json:"senderId"`
	Timestamp int64                `json:"timestamp"`
	Files     []models.FilePayload `json:"files,omitempty"`
}

func (c *Client) Login(ctx context.Context, email, password string) (models.Principal, error) {
	var resp LoginResponse
	err := c.post(ctx, "/user/login/", "", LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return models.Principal{}, fmt.Errorf("login: %w", err)
	}

	return models.Principal{
		ID:          resp.UserID,
		DisplayName: resp.Username,
		Email:       resp.Email,
		AvatarURL:   resp.Avatar,
		Bio:         resp.Bio,
		Active:      resp.IsActive,
		Credential:  resp.Token,
	}, nil
}

func (c *Client) Register(ctx context.Context, username, email, password string) (models.Principal, error) {
	var resp LoginResponse
	err := c.post(ctx, "/user/register/", "", RegisterRequest{Username: username, Email: email, Password: password}, &resp)
	if err != nil {
		return models.Principal{}, fmt.Errorf("register: %w", err)
	}

	return models.Principal{
		ID:          resp.UserID,
		DisplayName: resp.Username,
		Email:       resp.Email,
		AvatarURL:   resp.Avatar,
		Credential:  resp.Token,
	}, nil
}

func (c *Client) Logout(ctx context.Context, credential string) error {
	if err := c.post(ctx, "/user/logout/", credential, struct{}{}, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *Client) ListUsers(ctx context.Context, credential string) ([]UserRecord, error) {
	var users []UserRecord
	if err := c.get(ctx, "/user/get-all-users/", credential, nil, &users); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (c *Client) ListGroups(ctx context.Context, credential string) ([]GroupRecord, error) {
	var groups []GroupRecord
	if err := c.get(ctx, "/chat/get-groups/", credential, nil, &groups); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// DirectHistory fetches the full message history between two users.
func (c *Client) DirectHistory(ctx context.Context, credential, senderID, receiverID string) ([]HistoryRecord, error) {
	q := url.Values{}
	q.Set("senderId", senderID)
	q.Set("receiverId", receiverID)

	var records []HistoryRecord
	if err := c.get(ctx, "/chat/history/", credential, q, &records); err != nil {
		return nil, fmt.Errorf("direct history: %w", err)
	}
	return records, nil
}

func (c *Client) GroupHistory(ctx context.Context, credential, groupID string) ([]HistoryRecord, error) {
	q := url.Values{}
	q.Set("groupId", groupID)

	var records []HistoryRecord
	if err := c.get(ctx, "/chat/history/", credential, q, &records); err != nil {
		return nil, fmt.Errorf("group history: %w", err)
	}
	return records, nil
}

// FetchContent downloads a resolved attachment for preview.
func (c *Client) FetchContent(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) post(ctx context.Context, path, credential string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path, credential string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", req.URL.Path, err)
	}
	return nil
}
