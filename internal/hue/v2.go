package hue

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hueplan/pkg/logx"
)

// ClientV2 talks to the CLIP v2 API over HTTPS. The bridge serves a
// self-signed certificate, so verification is disabled; traffic stays on
// the local network.
type ClientV2 struct {
	base  string
	token string
	http  *http.Client
	// stream uses a separate client without a timeout: event streams are
	// expected to stay open indefinitely.
	stream *http.Client
	log    logx.Logger
}

func NewClientV2(cfg ClientConfig, log logx.Logger) *ClientV2 {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	return &ClientV2{
		base:   cfg.baseURL("https"),
		token:  cfg.AccessToken,
		http:   &http.Client{Timeout: timeout, Transport: transport},
		stream: &http.Client{Transport: transport},
		log:    log,
	}
}

type v2Response struct {
	Errors []struct {
		Description string `json:"description"`
	} `json:"errors"`
	Data json.RawMessage `json:"data"`
}

func (c *ClientV2) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("hue-application-key", c.token)
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

	var vr v2Response
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return err
	}
	if len(vr.Errors) > 0 {
		return fmt.Errorf("hue v2: %s", vr.Errors[0].Description)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(vr.Data, out)
}

// Connect verifies the application key against the resource root.
func (c *ClientV2) Connect(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/clip/v2/resource", nil, nil)
}

// Resources lists every resource of the given type, e.g. "light" or
// "button".
func (c *ClientV2) Resources(ctx context.Context, rtype string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/clip/v2/resource/"+rtype, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetLight fetches one v2 light resource.
func (c *ClientV2) GetLight(ctx context.Context, id string) (LightV2, error) {
	var out []LightV2
	if err := c.do(ctx, http.MethodGet, "/clip/v2/resource/light/"+id, nil, &out); err != nil {
		return LightV2{}, err
	}
	if len(out) == 0 {
		return LightV2{}, fmt.Errorf("hue v2: light %s not found", id)
	}
	return out[0], nil
}

// GetScenes lists every v2 scene.
func (c *ClientV2) GetScenes(ctx context.Context) ([]SceneV2, error) {
	var out []SceneV2
	if err := c.do(ctx, http.MethodGet, "/clip/v2/resource/scene", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateLight patches a v2 light resource.
func (c *ClientV2) UpdateLight(ctx context.Context, id string, body any) error {
	return c.do(ctx, http.MethodPut, "/clip/v2/resource/light/"+id, body, nil)
}

// EventStream opens the server-sent event stream. The caller owns the
// returned stream and must Close it.
func (c *ClientV2) EventStream(ctx context.Context) (*EventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/eventstream/clip/v2", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("hue-application-key", c.token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return newEventStream(resp.Body, c.log), nil
}
