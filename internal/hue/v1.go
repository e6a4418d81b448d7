package hue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"hueplan/pkg/logx"
)

// ClientConfig carries connection settings shared by both API generations.
type ClientConfig struct {
	// Addr is host or host:port, scheme optional.
	Addr        string
	AccessToken string

	// RatePerSec and Burst bound outgoing requests; the bridge firmware
	// starts dropping commands when flooded.
	RatePerSec float64
	Burst      int

	Timeout time.Duration
}

func (c ClientConfig) baseURL(scheme string) string {
	addr := strings.TrimSpace(c.Addr)
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	return scheme + "://" + strings.TrimRight(addr, "/")
}

func (c ClientConfig) limiter() *rate.Limiter {
	rps := c.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	burst := c.Burst
	if burst <= 0 {
		burst = 5
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Client is the v1 REST client. All calls share one rate limiter.
type Client struct {
	base    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewClient(cfg ClientConfig, log logx.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:    cfg.baseURL("http"),
		token:   cfg.AccessToken,
		http:    &http.Client{Timeout: timeout},
		limiter: cfg.limiter(),
		log:     log,
	}
}

// APIError is a non-2xx bridge response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hue bridge: status %d: %s", e.Status, e.Body)
}

func (c *Client) url(parts ...string) string {
	return c.base + "/api/" + c.token + "/" + strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Connect verifies the bridge is reachable and the token works.
func (c *Client) Connect(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.url("capabilities"), nil, nil)
}

func (c *Client) GetGroup(ctx context.Context, groupID string) (Group, error) {
	var g Group
	if err := c.do(ctx, http.MethodGet, c.url("groups", groupID), nil, &g); err != nil {
		return Group{}, err
	}
	g.ID = groupID
	return g, nil
}

func (c *Client) GetGroups(ctx context.Context) ([]Group, error) {
	var raw map[string]Group
	if err := c.do(ctx, http.MethodGet, c.url("groups"), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]Group, 0, len(raw))
	for id, g := range raw {
		g.ID = id
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Client) GetScenes(ctx context.Context) ([]Scene, error) {
	var raw map[string]Scene
	if err := c.do(ctx, http.MethodGet, c.url("scenes"), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]Scene, 0, len(raw))
	for id, s := range raw {
		s.ID = id
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Client) GetLights(ctx context.Context) ([]Light, error) {
	var raw map[string]Light
	if err := c.do(ctx, http.MethodGet, c.url("lights"), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]Light, 0, len(raw))
	for id, l := range raw {
		l.ID = id
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SendGroupAction applies a partial state update to every light in a group.
func (c *Client) SendGroupAction(ctx context.Context, groupID string, action GroupAction) error {
	return c.do(ctx, http.MethodPut, c.url("groups", groupID, "action"), action, nil)
}

// ActivateScene recalls a scene on a group. transitionTime is in bridge
// units of 100 ms; zero means bridge default.
func (c *Client) ActivateScene(ctx context.Context, groupID, sceneID string, transitionTime int) error {
	action := GroupAction{Scene: sceneID}
	if transitionTime > 0 {
		action.TransitionTime = &transitionTime
	}
	return c.SendGroupAction(ctx, groupID, action)
}
