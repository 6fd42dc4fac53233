package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jgivc/modmirror/internal/common"
	"github.com/jgivc/modmirror/internal/config"
	"github.com/jgivc/modmirror/internal/entity"
)

const (
	apiKeyParam = "api_key"

	sortParam         = "_sort"
	sortByDateAdded   = "date_added"
	dateAddedMinParam = "date_added-min"
	dateAddedMaxParam = "date_added-max"
	latestParam       = "latest"

	defaultRetryAfter = 60 * time.Second
)

type listEnvelope[T any] struct {
	Data []T `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Message string            `json:"message"`
		Errors  map[string]string `json:"errors"`
	} `json:"error"`
}

// Client talks to the remote catalog API over HTTP and classifies every
// failure into the error kinds of internal/common. All calls take a context;
// the configured timeout bounds each request.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        *slog.Logger
}

func New(cfg *config.APIConfig, log *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		baseURL:    cfg.URL,
		apiKey:     cfg.Key,
		log:        log.With(slog.String("item", "APIClient")),
	}
}

func (c *Client) GetMod(ctx context.Context, id int64) (*entity.Mod, error) {
	mod := &entity.Mod{}
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/mods/%d", id), "", nil, mod); err != nil {
		return nil, fmt.Errorf("cannot get mod %d: %w", id, err)
	}

	return mod, nil
}

func (c *Client) GetAllMods(ctx context.Context) ([]*entity.Mod, error) {
	env := &listEnvelope[*entity.Mod]{}
	if err := c.call(ctx, http.MethodGet, "/mods", "", nil, env); err != nil {
		return nil, fmt.Errorf("cannot get mods: %w", err)
	}

	return env.Data, nil
}

// GetModEvents returns all change events in [from, until), oldest first.
func (c *Client) GetModEvents(ctx context.Context, from, until int64) ([]entity.ModEvent, error) {
	query := url.Values{}
	query.Set(dateAddedMinParam, strconv.FormatInt(from, 10))
	query.Set(dateAddedMaxParam, strconv.FormatInt(until, 10))
	query.Set(latestParam, "true")
	query.Set(sortParam, sortByDateAdded)

	env := &listEnvelope[entity.ModEvent]{}
	if err := c.call(ctx, http.MethodGet, "/mods/events", "", query, env); err != nil {
		return nil, fmt.Errorf("cannot get mod events: %w", err)
	}

	return env.Data, nil
}

func (c *Client) GetUserSubscriptions(ctx context.Context, token string) ([]int64, error) {
	env := &listEnvelope[*entity.Mod]{}
	if err := c.call(ctx, http.MethodGet, "/me/subscribed", token, nil, env); err != nil {
		return nil, fmt.Errorf("cannot get subscriptions: %w", err)
	}

	ids := make([]int64, 0, len(env.Data))
	for _, mod := range env.Data {
		ids = append(ids, mod.ID)
	}

	return ids, nil
}

func (c *Client) GetModfile(ctx context.Context, modID, fileID int64) (*entity.Modfile, error) {
	modfile := &entity.Modfile{}
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/mods/%d/files/%d", modID, fileID), "", nil, modfile); err != nil {
		return nil, fmt.Errorf("cannot get modfile %d/%d: %w", modID, fileID, err)
	}

	return modfile, nil
}

func (c *Client) GetGame(ctx context.Context) (*entity.GameInfo, error) {
	game := &entity.GameInfo{}
	if err := c.call(ctx, http.MethodGet, "/game", "", nil, game); err != nil {
		return nil, fmt.Errorf("cannot get game info: %w", err)
	}

	return game, nil
}

// Authenticate validates the token and returns the identity it belongs to.
func (c *Client) Authenticate(ctx context.Context, token string) (*entity.User, error) {
	user := &entity.User{}
	if err := c.call(ctx, http.MethodGet, "/me", token, nil, user); err != nil {
		return nil, fmt.Errorf("cannot authenticate: %w", err)
	}

	return user, nil
}

func (c *Client) Subscribe(ctx context.Context, token string, modID int64) error {
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/mods/%d/subscribe", modID), token, nil, nil); err != nil {
		return fmt.Errorf("cannot subscribe to mod %d: %w", modID, err)
	}

	return nil
}

func (c *Client) Unsubscribe(ctx context.Context, token string, modID int64) error {
	if err := c.call(ctx, http.MethodDelete, fmt.Sprintf("/mods/%d/subscribe", modID), token, nil, nil); err != nil {
		return fmt.Errorf("cannot unsubscribe from mod %d: %w", modID, err)
	}

	return nil
}

func (c *Client) call(ctx context.Context, method, path, token string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	if c.apiKey != "" {
		query.Set(apiKeyParam, c.apiKey)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return fmt.Errorf("cannot build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", common.ErrNetworkUnreachable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cannot decode response: %w", err)
	}

	return nil
}

func classifyStatus(resp *http.Response) error {
	code := resp.StatusCode

	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return common.ErrAuthRejected
	case code == http.StatusNotFound:
		return common.ErrNotFound
	case code == http.StatusTooManyRequests:
		return &common.RateLimitedError{RetryAfter: retryAfter(resp)}
	case code == http.StatusUnprocessableEntity:
		env := errorEnvelope{}
		_ = json.NewDecoder(resp.Body).Decode(&env)

		return &common.ValidationError{Fields: env.Error.Errors}
	default:
		return fmt.Errorf("%w: status %d", common.ErrNetworkUnreachable, code)
	}
}

func retryAfter(resp *http.Response) time.Duration {
	seconds, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return defaultRetryAfter
	}

	return time.Duration(seconds) * time.Second
}
