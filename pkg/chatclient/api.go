package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api: %d %s", e.Status, e.Message)
}

type ClientConfig struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
}

// Client talks to the chat REST API. Reads are retried with exponential
// backoff on transport errors and 5xx answers; writes are not.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
	conf  ClientConfig
}

func NewClient(conf ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(conf.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if conf.Timeout == 0 {
		conf.Timeout = 10 * time.Second
	}
	if conf.RetryMaxElapsed == 0 {
		conf.RetryMaxElapsed = 15 * time.Second
	}
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
	return &Client{
		base:  base,
		token: conf.Token,
		http:  &http.Client{Transport: tr, Timeout: conf.Timeout},
		conf:  conf,
	}, nil
}

func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	var out []Chat
	err := c.get(ctx, "/api/chats", nil, &out)
	return out, err
}

func (c *Client) GetChat(ctx context.Context, chatID string) (ChatDetail, error) {
	var out ChatDetail
	err := c.get(ctx, "/api/chats/"+url.PathEscape(chatID), nil, &out)
	return out, err
}

func (c *Client) CreateChat(ctx context.Context, req CreateChatRequest) (Chat, error) {
	var out Chat
	err := c.send(ctx, http.MethodPost, "/api/chats", req, &out)
	return out, err
}

// Bootstrap makes sure the general chat exists and returns it.
func (c *Client) Bootstrap(ctx context.Context) (Chat, error) {
	var out Chat
	err := c.send(ctx, http.MethodPost, "/api/chats/bootstrap", nil, &out)
	return out, err
}

// History fetches page n (1 is the newest) of a chat.
func (c *Client) History(ctx context.Context, chatID string, page, limit int) (HistoryPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out HistoryPage
	err := c.get(ctx, "/api/chats/"+url.PathEscape(chatID)+"/messages", q, &out)
	return out, err
}

// HistoryBefore fetches messages older than beforeSeq.
func (c *Client) HistoryBefore(ctx context.Context, chatID string, beforeSeq int64, limit int) (HistoryPage, error) {
	q := url.Values{}
	q.Set("before", strconv.FormatInt(beforeSeq, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out HistoryPage
	err := c.get(ctx, "/api/chats/"+url.PathEscape(chatID)+"/messages", q, &out)
	return out, err
}

// SendMessage posts a message. clientID is echoed back on the stored
// message and makes a resend of the same logical message idempotent.
func (c *Client) SendMessage(ctx context.Context, chatID, content, clientID string) (Message, error) {
	var out struct {
		Message Message `json:"message"`
	}
	body := map[string]string{"content": content}
	if clientID != "" {
		body["clientId"] = clientID
	}
	err := c.send(ctx, http.MethodPost, "/api/chats/"+url.PathEscape(chatID)+"/messages", body, &out)
	return out.Message, err
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.url(path, q)
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		err = c.do(req, out)
		if apiErr, ok := err.(*APIError); ok && apiErr.Status < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.conf.RetryMaxElapsed
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, nil), r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&e)
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) url(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
