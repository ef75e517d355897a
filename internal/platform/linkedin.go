package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	LinkedInName        = "linkedin"
	linkedInAPI         = "https://api.linkedin.com"
	linkedInVersion     = "202405"
	maxErrorBody        = 512
	defaultCallDeadline = 30 * time.Second
)

type LinkedIn struct {
	baseURL   string
	personURN string
	client    *http.Client
}

type LinkedInOption func(*LinkedIn)

// WithLinkedInBaseURL points the client at another host, e.g. a test server.
func WithLinkedInBaseURL(u string) LinkedInOption {
	return func(l *LinkedIn) { l.baseURL = strings.TrimRight(u, "/") }
}

// NewLinkedIn builds a client that authenticates every call with the given
// member access token.
func NewLinkedIn(accessToken, personURN string, timeout time.Duration, opts ...LinkedInOption) *LinkedIn {
	if timeout <= 0 {
		timeout = defaultCallDeadline
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = timeout

	l := &LinkedIn{baseURL: linkedInAPI, personURN: personURN, client: httpClient}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *LinkedIn) Name() string { return LinkedInName }

type linkedInPost struct {
	Author         string               `json:"author"`
	Commentary     string               `json:"commentary"`
	Visibility     string               `json:"visibility"`
	Distribution   linkedInDistribution `json:"distribution"`
	LifecycleState string               `json:"lifecycleState"`
}

type linkedInDistribution struct {
	FeedDistribution string `json:"feedDistribution"`
}

func (l *LinkedIn) Publish(ctx context.Context, content string) (string, error) {
	body, err := json.Marshal(linkedInPost{
		Author:         l.personURN,
		Commentary:     content,
		Visibility:     "PUBLIC",
		Distribution:   linkedInDistribution{FeedDistribution: "MAIN_FEED"},
		LifecycleState: "PUBLISHED",
	})
	if err != nil {
		return "", err
	}

	req, err := l.newRequest(ctx, http.MethodPost, "/rest/posts", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", l.statusError(resp)
	}
	id := resp.Header.Get("x-restli-id")
	if id == "" {
		return "", fmt.Errorf("%s: publish returned no post id", LinkedInName)
	}
	return id, nil
}

// Exists reports false only on an explicit 404 or 410.
func (l *LinkedIn) Exists(ctx context.Context, platformID string) (bool, error) {
	req, err := l.newRequest(ctx, http.MethodGet, "/rest/posts/"+url.QueryEscape(platformID), nil)
	if err != nil {
		return false, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return true, nil
	case http.StatusNotFound, http.StatusGone:
		return false, nil
	default:
		return false, l.statusError(resp)
	}
}

func (l *LinkedIn) CheckHealth(ctx context.Context) error {
	req, err := l.newRequest(ctx, http.MethodGet, "/v2/userinfo", nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return l.statusError(resp)
	}
	return nil
}

func (l *LinkedIn) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("LinkedIn-Version", linkedInVersion)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	return req, nil
}

func (l *LinkedIn) statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Platform: LinkedInName, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
