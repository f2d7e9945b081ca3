// Package transport talks to the Fenotek cloud backend.
//
// Client wraps an injected resty session, keeps the account token and
// decodes every response into the records of the wire package. It never
// retries: retry policy belongs to the refresh coordinator.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/trymwestin/fenotek/internal/core/transport/wire"
	"golang.org/x/sync/singleflight"
)

// DefaultBaseURL is the production backend.
const DefaultBaseURL = "https://backend.fenotek.net"

// TokenHeader carries the session token on authenticated calls.
const TokenHeader = "x-access-tokens"

// Backend paths.
const (
	pathLogin         = "/authenticate"
	pathDevices       = "/user/visiophones"
	pathDevice        = "/visiophones/%s"
	pathHome          = "/page/%s/home"
	pathNotifications = "/visiophones/%s/notifications"
	pathPing          = "/visiophones/%s/ping"
	pathActivate      = "/visiophones/%s/drycontacts/%s/activate"
)

// indirectVideoType is the home summary detail type whose url points at a
// JSON document holding the playable media URL.
const indirectVideoType = 5

// Config holds the account and session settings of a Client.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timezone string
	// DeviceUID identifies this client to the backend. Generated when empty.
	DeviceUID string
	// NotificationPages bounds how many notification pages one listing reads.
	NotificationPages int
	// Timeout is applied per request when the client builds its own session.
	Timeout time.Duration
}

// Client is an authenticated Fenotek API client. Safe for concurrent use.
type Client struct {
	http *resty.Client
	cfg  Config
	log  *slog.Logger

	mu    sync.RWMutex
	token string

	loginGroup singleflight.Group
}

// NewClient creates a client on top of session. A nil session gets a fresh
// resty client configured from cfg.
func NewClient(session *resty.Client, cfg Config, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.DeviceUID == "" {
		cfg.DeviceUID = uuid.NewString()
	}
	if cfg.NotificationPages <= 0 {
		cfg.NotificationPages = 1
	}
	if session == nil {
		session = resty.New()
		if cfg.Timeout > 0 {
			session.SetTimeout(cfg.Timeout)
		}
	}
	session.
		SetBaseURL(cfg.BaseURL).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http: session,
		cfg:  cfg,
		log:  log,
	}
}

// Username returns the account the client logs in as.
func (c *Client) Username() string {
	return c.cfg.Username
}

// HasToken reports whether a session token is held.
func (c *Client) HasToken() bool {
	return c.currentToken() != ""
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges the credentials for a session token. A rejection is
// reported as false with the server message logged; only transport failures
// are returned as errors.
func (c *Client) Login(ctx context.Context) (bool, error) {
	payload := wire.LoginRequest{
		Email:    c.cfg.Username,
		Password: c.cfg.Password,
		Device: wire.LoginDevice{
			TimeZone:  c.cfg.Timezone,
			Type:      "hass",
			DUID:      c.cfg.DeviceUID,
			BypassDND: true,
		},
	}

	resp, err := c.http.R().SetContext(ctx).SetBody(payload).Post(pathLogin)
	if err != nil {
		return false, &Error{Method: http.MethodPost, Path: pathLogin, Err: err}
	}

	status := resp.StatusCode()
	if status != http.StatusOK && status != http.StatusUnauthorized && status != http.StatusForbidden {
		return false, &Error{Method: http.MethodPost, Path: pathLogin, Status: status}
	}

	var res wire.LoginResponse
	if err := json.Unmarshal(resp.Body(), &res); err != nil {
		return false, &Error{Method: http.MethodPost, Path: pathLogin, Status: status, Err: fmt.Errorf("decode: %w", err)}
	}

	if res.Token == "" {
		if status != http.StatusOK && res.Error == "" {
			return false, &Error{Method: http.MethodPost, Path: pathLogin, Status: status}
		}
		c.log.Error("login rejected", "username", c.cfg.Username, "error", res.Error)
		return false, nil
	}

	c.mu.Lock()
	c.token = res.Token
	c.mu.Unlock()

	c.log.Info("logged in", "username", c.cfg.Username)
	return true, nil
}

// ensureToken returns the session token, logging in first when none is held.
// Concurrent callers share a single login attempt, which runs detached from
// any one caller so a cancelled caller does not fail the others.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	if tok := c.currentToken(); tok != "" {
		return tok, nil
	}

	loginCtx := context.WithoutCancel(ctx)
	ch := c.loginGroup.DoChan("login", func() (interface{}, error) {
		if tok := c.currentToken(); tok != "" {
			return tok, nil
		}
		ok, err := c.Login(loginCtx)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrAuth
		}
		return c.currentToken(), nil
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("transport: login: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("transport: login: %w", res.Err)
		}
		return res.Val.(string), nil
	}
}

// onBackend reports whether target is served by the backend. Relative paths
// are; absolute URLs must match the scheme and host of the base URL. Media
// and documents hosted elsewhere never see the session token.
func (c *Client) onBackend(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	if !u.IsAbs() {
		return true
	}
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, base.Scheme) && strings.EqualFold(u.Host, base.Host)
}

// request builds a request carrying the session token when target is on the
// backend.
func (c *Client) request(ctx context.Context, target string) (*resty.Request, error) {
	req := c.http.R().SetContext(ctx)
	if !c.onBackend(target) {
		return req, nil
	}
	tok, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}
	return req.SetHeader(TokenHeader, tok), nil
}

// do runs one authenticated request and decodes a 200 response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.request(ctx, path)
	if err != nil {
		return err
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return &Error{Method: method, Path: path, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return &Error{Method: method, Path: path, Status: resp.StatusCode()}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &Error{Method: method, Path: path, Status: resp.StatusCode(), Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// ListDevices returns the doorbell ids of the account.
func (c *Client) ListDevices(ctx context.Context) ([]string, error) {
	var res wire.DevicesResponse
	if err := c.do(ctx, http.MethodGet, pathDevices, nil, &res); err != nil {
		return nil, err
	}
	return res.Visiophones, nil
}

// GetDevice returns the profile of one doorbell.
func (c *Client) GetDevice(ctx context.Context, deviceID string) (*wire.Visiophone, error) {
	var res wire.Visiophone
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf(pathDevice, deviceID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetHome returns the home summary of one doorbell.
//
// When the last notification has detail type 5 its url is an indirection:
// the document behind it is fetched, detail.videoUrl receives the playable
// URL and detail.url is replaced by the summary's media URL.
func (c *Client) GetHome(ctx context.Context, deviceID string) (*wire.Home, error) {
	var res wire.Home
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf(pathHome, deviceID), nil, &res); err != nil {
		return nil, err
	}

	last := res.LastNotification
	if last == nil {
		return &res, nil
	}
	last.Detail.VideoURL = ""

	if last.Detail.Type != nil && *last.Detail.Type == indirectVideoType && last.Detail.URL != "" {
		var doc wire.MediaDocument
		if err := c.FetchJSON(ctx, last.Detail.URL, &doc); err != nil {
			return nil, fmt.Errorf("transport: resolve home video: %w", err)
		}
		last.Detail.VideoURL = doc.Data.URL
		last.Detail.URL = res.MediaURL
	}
	return &res, nil
}

// ListNotifications returns the most recent notifications of a doorbell,
// reading at most Config.NotificationPages pages.
func (c *Client) ListNotifications(ctx context.Context, deviceID string) ([]wire.Notification, error) {
	path := fmt.Sprintf(pathNotifications, deviceID)

	var out []wire.Notification
	for page := 1; page <= c.cfg.NotificationPages; page++ {
		var res wire.NotificationsPage
		if err := c.do(ctx, http.MethodGet, path+"?page="+strconv.Itoa(page), nil, &res); err != nil {
			return nil, err
		}
		out = append(out, res.Notifications...)
		if res.Pages <= page || len(res.Notifications) == 0 {
			break
		}
	}
	return out, nil
}

// FetchJSON decodes the JSON document at url. Relative URLs resolve against
// the backend base URL.
func (c *Client) FetchJSON(ctx context.Context, url string, out interface{}) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

// FetchMedia downloads a media file and returns its bytes and content type.
func (c *Client) FetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	req, err := c.request(ctx, url)
	if err != nil {
		return nil, "", err
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, "", &Error{Method: http.MethodGet, Path: url, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, "", &Error{Method: http.MethodGet, Path: url, Status: resp.StatusCode()}
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(resp.Body())
	}
	return resp.Body(), contentType, nil
}

// Ping probes a doorbell. Every failure reads as false.
func (c *Client) Ping(ctx context.Context, deviceID string) bool {
	var res wire.PingResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf(pathPing, deviceID), struct{}{}, &res); err != nil {
		c.log.Debug("ping failed", "device_id", deviceID, "error", err)
		return false
	}
	return res.Success
}

// ActivateRelay triggers a dry contact. A server-reported error is logged and
// returned as false; transport failures are returned as errors.
func (c *Client) ActivateRelay(ctx context.Context, deviceID, relayID string) (bool, error) {
	var res wire.ActivateResponse
	body := wire.ActivateRequest{SecurityCode: ""}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf(pathActivate, deviceID, relayID), body, &res); err != nil {
		return false, err
	}

	if res.Error != "" {
		reason := "Unknown"
		if res.SchemaError != nil && res.SchemaError.Message != "" {
			reason = res.SchemaError.Message
		}
		c.log.Error("relay activation rejected",
			"device_id", deviceID,
			"relay_id", relayID,
			"error", res.Error,
			"reason", reason,
		)
		return false, nil
	}
	return res.Success, nil
}
