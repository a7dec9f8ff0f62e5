// Package telegram implements a minimal Bot API session used by the
// credential pool.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Aalis/tg-parse/internal/logger"
	"github.com/Aalis/tg-parse/pkg/tglink"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// APIError is a non-OK Bot API response.
type APIError struct {
	Method      string
	Code        int
	Description string
	// RetryAfter is nonzero for flood-wait (429) responses.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %s (code %d)", e.Method, e.Description, e.Code)
}

// Temporary reports whether the call may succeed if retried.
func (e *APIError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Options configures sessions produced by a Dialer.
type Options struct {
	// BaseURL overrides the Bot API endpoint, mainly for tests.
	BaseURL string
	// RequestTimeout bounds each HTTP call.
	RequestTimeout time.Duration
	// RatePerSecond and RateBurst configure the per-session token bucket.
	RatePerSecond float64
	RateBurst     int
	// RetryAttempts bounds retries of flood-waited or failed calls.
	RetryAttempts uint
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 20
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 5
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 3
	}
	return o
}

// Dialer establishes one Client per bot token.
type Dialer struct {
	opts Options
}

// NewDialer creates a Dialer with the given options.
func NewDialer(opts Options) *Dialer {
	return &Dialer{opts: opts.withDefaults()}
}

// Dial validates the token against getMe and returns a live session.
func (d *Dialer) Dial(ctx context.Context, token string) (*Client, error) {
	c := &Client{
		token:   token,
		baseURL: strings.TrimRight(d.opts.BaseURL, "/"),
		http:    &http.Client{Timeout: d.opts.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(d.opts.RatePerSecond), d.opts.RateBurst),
		retries: d.opts.RetryAttempts,
	}

	var me apiUser
	if err := c.invoke(ctx, "getMe", nil, &me); err != nil {
		return nil, fmt.Errorf("validating bot token: %w", err)
	}
	c.botID = me.ID
	c.botUsername = me.Username
	return c, nil
}

// Client is one live Bot API session bound to a single bot token. It is safe
// for concurrent use.
type Client struct {
	token       string
	baseURL     string
	http        *http.Client
	limiter     *rate.Limiter
	retries     uint
	botID       int64
	botUsername string
}

// BotID returns the ID of the bot account behind this session.
func (c *Client) BotID() int64 {
	return c.botID
}

// ResolveChat resolves a group link, username, or ID to chat metadata.
func (c *Client) ResolveChat(ctx context.Context, identifier string) (*Chat, error) {
	params := url.Values{"chat_id": {chatParam(identifier)}}
	var raw apiChat
	if err := c.invoke(ctx, "getChat", params, &raw); err != nil {
		return nil, err
	}
	return raw.toChat(), nil
}

// ChatInfo resolves a chat and attaches its member count. The count is
// best-effort: a failure leaves the field unset rather than failing the
// whole lookup.
func (c *Client) ChatInfo(ctx context.Context, identifier string) (*Chat, error) {
	chat, err := c.ResolveChat(ctx, identifier)
	if err != nil {
		return nil, err
	}

	count, err := c.MemberCount(ctx, fmt.Sprintf("%d", chat.ID))
	if err != nil {
		logger.Warn("member_count_unavailable", "chat_id", chat.ID, "error", err.Error())
		return chat, nil
	}
	chat.MemberCount = &count
	return chat, nil
}

// MemberCount returns the number of members in a chat.
func (c *Client) MemberCount(ctx context.Context, chatID string) (int, error) {
	params := url.Values{"chat_id": {chatParam(chatID)}}
	var count int
	if err := c.invoke(ctx, "getChatMemberCount", params, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// Administrators returns the administrators of a chat, owner first.
func (c *Client) Administrators(ctx context.Context, chatID string) ([]Member, error) {
	params := url.Values{"chat_id": {chatParam(chatID)}}
	var raw []apiChatMember
	if err := c.invoke(ctx, "getChatAdministrators", params, &raw); err != nil {
		return nil, err
	}

	members := make([]Member, 0, len(raw))
	for i := range raw {
		members = append(members, raw[i].toMember())
	}
	return members, nil
}

// MemberQuery filters and windows a participant listing.
type MemberQuery struct {
	// AdminsOnly restricts the listing to the owner and administrators. A
	// bot session can enumerate only that subset anyway; the flag is kept so
	// the query contract carries the filter explicitly.
	AdminsOnly bool
	// Offset skips the first n participants of the ordered listing.
	Offset int
	// Limit caps the number of returned participants. Zero means no cap.
	Limit int
}

// Members enumerates chat participants, deduplicated by user ID and windowed
// by the query's offset and limit. Bot sessions cannot page through regular
// members; the enumerable set is the administrator list.
func (c *Client) Members(ctx context.Context, chatID string, q MemberQuery) ([]Member, error) {
	admins, err := c.Administrators(ctx, chatID)
	if err != nil {
		return nil, err
	}

	members := make([]Member, 0, len(admins))
	seen := make(map[int64]bool, len(admins))
	for _, m := range admins {
		if seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true
		members = append(members, m)
	}

	if q.Offset >= len(members) {
		return []Member{}, nil
	}
	members = members[q.Offset:]
	if q.Limit > 0 && q.Limit < len(members) {
		members = members[:q.Limit]
	}
	return members, nil
}

// Disconnect releases the session's idle connections.
func (c *Client) Disconnect() error {
	c.http.CloseIdleConnections()
	return nil
}

// chatParam renders an identifier as a chat_id value: numeric IDs get the
// -100 supergroup prefix, usernames get @.
func chatParam(identifier string) string {
	identifier = tglink.Extract(identifier)
	normalized := tglink.NormalizeChatID(identifier)
	if strings.HasPrefix(normalized, "-") {
		return normalized
	}
	return "@" + normalized
}

// apiResponse is the Bot API envelope common to every method.
type apiResponse struct {
	OK          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result"`
	ErrorCode   int                 `json:"error_code"`
	Description string              `json:"description"`
	Parameters  *responseParameters `json:"parameters"`
}

type responseParameters struct {
	RetryAfter int `json:"retry_after"`
}

// post performs one HTTP round trip and decodes the envelope.
func (c *Client) post(ctx context.Context, method string, params url.Values, result any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	var body io.Reader
	if len(params) > 0 {
		body = strings.NewReader(params.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decoding response: %w", method, err)
	}

	if !envelope.OK {
		apiErr := &APIError{
			Method:      method,
			Code:        envelope.ErrorCode,
			Description: envelope.Description,
		}
		if envelope.Parameters != nil && envelope.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("%s: decoding result: %w", method, err)
		}
	}
	return nil
}
