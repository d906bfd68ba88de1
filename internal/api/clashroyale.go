package api

import (
	"clash-tracker/internal/config"
	"clash-tracker/internal/domain"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// ClashRoyaleClient talks to the official Clash Royale API. The API key is
// passed on every call; the client holds none of its own.
type ClashRoyaleClient struct {
	baseURL     string
	client      *fasthttp.Client
	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
}

type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusError is returned for any non-200 response.
type StatusError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("API error: %d", e.StatusCode)
}

// Temporary reports whether repeating the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == fasthttp.StatusTooManyRequests || e.StatusCode >= 500
}

func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == fasthttp.StatusNotFound
}

func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) &&
		(se.StatusCode == fasthttp.StatusUnauthorized || se.StatusCode == fasthttp.StatusForbidden)
}

// IsTemporary reports whether err is worth retrying: timeouts, transport
// failures, throttling and server errors.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var syntaxErr *json.SyntaxError
	return !errors.As(err, &syntaxErr) && !errors.Is(err, context.Canceled)
}

func NewClashRoyaleClient(cfg *config.Config) *ClashRoyaleClient {
	return &ClashRoyaleClient{
		baseURL: strings.TrimRight(cfg.ClashRoyaleBaseURL, "/"),
		client: &fasthttp.Client{
			MaxConnsPerHost:        16,
			ReadTimeout:            cfg.FetchTimeout,
			WriteTimeout:           cfg.FetchTimeout,
			MaxIdleConnDuration:    1 * time.Minute,
			DisablePathNormalizing: true,
		},
	}
}

func (c *ClashRoyaleClient) GetRateLimitInfo() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *ClashRoyaleClient) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if limit := string(resp.Header.Peek("X-Ratelimit-Limit")); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			c.rateLimit.Limit = val
		}
	}
	if remaining := string(resp.Header.Peek("X-Ratelimit-Remaining")); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			c.rateLimit.Remaining = val
		}
	}
	c.rateLimit.UpdatedAt = time.Now()
}

// GetPlayer fetches the public profile for tag ("#2PPYL" or "2PPYL").
func (c *ClashRoyaleClient) GetPlayer(ctx context.Context, tag, apiKey string) (*PlayerResponse, error) {
	clean := strings.TrimLeft(strings.TrimSpace(tag), "#")
	endpoint := fmt.Sprintf("%s/players/%s", c.baseURL, url.PathEscape("#"+clean))
	return doRequest[PlayerResponse](ctx, c, endpoint, apiKey)
}

func doRequest[T any](ctx context.Context, client *ClashRoyaleClient, endpoint, apiKey string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")

	deadline, ok := ctx.Deadline()
	if ok {
		if err := client.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, err
		}
	} else {
		if err := client.client.Do(req, resp); err != nil {
			return nil, err
		}
	}

	client.updateRateLimit(resp)

	if resp.StatusCode() != fasthttp.StatusOK {
		statusErr := &StatusError{StatusCode: resp.StatusCode()}
		var body ErrorResponse
		if json.Unmarshal(resp.Body(), &body) == nil {
			statusErr.Reason = body.Reason
			statusErr.Message = body.Message
		}
		return nil, statusErr
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type ErrorResponse struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type PlayerResponse struct {
	Tag               string `json:"tag"`
	Name              string `json:"name"`
	ExpLevel          int    `json:"expLevel"`
	Trophies          int    `json:"trophies"`
	BestTrophies      int    `json:"bestTrophies"`
	Wins              int    `json:"wins"`
	Losses            int    `json:"losses"`
	BattleCount       int    `json:"battleCount"`
	ThreeCrownWins    int    `json:"threeCrownWins"`
	Donations         int    `json:"donations"`
	DonationsReceived int    `json:"donationsReceived"`
	Role              string `json:"role"`
	Clan              *struct {
		Tag  string `json:"tag"`
		Name string `json:"name"`
	} `json:"clan,omitempty"`
	Arena struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"arena"`
}

func (p *PlayerResponse) Stats() domain.Stats {
	return domain.Stats{
		Tag:      p.Tag,
		Name:     p.Name,
		Trophies: p.Trophies,
		Level:    p.ExpLevel,
		Wins:     p.Wins,
		Losses:   p.Losses,
	}
}

// FetchStats adapts GetPlayer to the snapshot the tracker records.
func (c *ClashRoyaleClient) FetchStats(ctx context.Context, tag, apiKey string) (domain.Stats, error) {
	resp, err := c.GetPlayer(ctx, tag, apiKey)
	if err != nil {
		return domain.Stats{}, err
	}
	return resp.Stats(), nil
}
