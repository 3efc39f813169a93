package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/callbridge-backend/internal/logger"
	"github.com/yungbote/callbridge-backend/internal/pkg/ctxutil"
	"github.com/yungbote/callbridge-backend/internal/pkg/httpx"
)

// Client lists and fetches call recordings from the VoIP provider. It is
// the pipeline's only view of the provider: listing returns cheap
// metadata, fetching returns the heavy audio payload.
type Client interface {
	ListRecordings(ctx context.Context, windowStart, windowEnd time.Time) ([]RecordingInfo, error)
	FetchRecording(ctx context.Context, sid string) (*Recording, error)
}

type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	PageSize   int
	Timeout    time.Duration
	MaxRetries int
}

func ConfigFromEnv() Config {
	timeoutSec := 30
	if v := strings.TrimSpace(os.Getenv("TWILIO_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	pageSize := 200
	if v := strings.TrimSpace(os.Getenv("TWILIO_PAGE_SIZE")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			pageSize = parsed
		}
	}
	maxRetries := 4
	if v := strings.TrimSpace(os.Getenv("TWILIO_MAX_RETRIES")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}
	return Config{
		AccountSID: strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")),
		AuthToken:  strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")),
		BaseURL:    strings.TrimSpace(os.Getenv("TWILIO_BASE_URL")),
		PageSize:   pageSize,
		Timeout:    time.Duration(timeoutSec) * time.Second,
		MaxRetries: maxRetries,
	}
}

func NewFromEnv(log *logger.Logger) (Client, error) {
	return New(log, ConfigFromEnv())
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.AccountSID == "" {
		return nil, fmt.Errorf("missing TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("missing TWILIO_AUTH_TOKEN")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.twilio.com/2010-04-01"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}

	return &client{
		log:        log.With("client", "TwilioClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
	}, nil
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
	maxRetries int
}

// RecordingInfo is the listing metadata for one recorded call leg.
// StartTime/Duration come back as provider strings and are normalized
// here; routing fields may be empty for internal legs.
type RecordingInfo struct {
	SID                  string `json:"sid"`
	CallSID              string `json:"call_sid"`
	StartTime            string `json:"start_time"`
	Duration             string `json:"duration"`
	FromNumber           string `json:"from_number"`
	ToNumber             string `json:"to_number"`
	Direction            string `json:"direction"`
	CallerIDInternal     string `json:"caller_id_internal"`
	AgentExtension       string `json:"agent_extension"`
	FirstAnswerExtension string `json:"first_answer_extension"`
}

// ParsedStart parses the listing's start timestamp (unix seconds).
func (ri RecordingInfo) ParsedStart() (time.Time, bool) {
	s := strings.TrimSpace(ri.StartTime)
	if s == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

// ParsedDuration parses the listing's duration in seconds.
func (ri RecordingInfo) ParsedDuration() (int, bool) {
	s := strings.TrimSpace(ri.Duration)
	if s == "" {
		return 0, false
	}
	d, err := strconv.Atoi(s)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

// Recording is the fetched audio payload plus its listing metadata.
type Recording struct {
	Info     RecordingInfo
	Bytes    []byte
	MimeType string
}

type recordingListResponse struct {
	Recordings  []RecordingInfo `json:"recordings"`
	NextPageURI string          `json:"next_page_uri"`
}

func (c *client) ListRecordings(ctx context.Context, windowStart, windowEnd time.Time) ([]RecordingInfo, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("twilio client unavailable")
	}
	if !windowEnd.After(windowStart) {
		return nil, fmt.Errorf("twilio: invalid window [%s, %s)", windowStart, windowEnd)
	}

	// The provider takes unix-second strings for time bounds.
	q := url.Values{}
	q.Set("DateCreated>", strconv.FormatInt(windowStart.Unix(), 10))
	q.Set("DateCreated<", strconv.FormatInt(windowEnd.Unix(), 10))
	q.Set("PageSize", strconv.Itoa(c.cfg.PageSize))

	endpoint := fmt.Sprintf("%s/Accounts/%s/Recordings.json?%s", c.cfg.BaseURL, c.cfg.AccountSID, q.Encode())

	out := []RecordingInfo{}
	for endpoint != "" {
		page, err := doJSON[recordingListResponse](c, ctx, "GET", endpoint)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Recordings...)
		if strings.TrimSpace(page.NextPageURI) == "" {
			break
		}
		endpoint = c.cfg.BaseURL + page.NextPageURI
	}
	return out, nil
}

func (c *client) FetchRecording(ctx context.Context, sid string) (*Recording, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("twilio client unavailable")
	}
	sid = strings.TrimSpace(sid)
	if sid == "" {
		return nil, fmt.Errorf("twilio: recording sid required")
	}

	metaURL := fmt.Sprintf("%s/Accounts/%s/Recordings/%s.json", c.cfg.BaseURL, c.cfg.AccountSID, sid)
	info, err := doJSON[RecordingInfo](c, ctx, "GET", metaURL)
	if err != nil {
		return nil, err
	}

	mediaURL := fmt.Sprintf("%s/Accounts/%s/Recordings/%s", c.cfg.BaseURL, c.cfg.AccountSID, sid)
	body, mime, err := c.doMedia(ctx, mediaURL)
	if err != nil {
		return nil, err
	}

	return &Recording{
		Info:     *info,
		Bytes:    body,
		MimeType: mime,
	}, nil
}

// ---------- HTTP / retry helpers ----------

type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

type HTTPError struct {
	StatusCode int
	Body       string
	APIError   *apiError
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "twilio: <nil error>"
	}
	if e.APIError != nil && strings.TrimSpace(e.APIError.Message) != "" {
		if e.APIError.Code != 0 {
			return fmt.Sprintf("twilio http %d: %s (code=%d)", e.StatusCode, e.APIError.Message, e.APIError.Code)
		}
		return fmt.Sprintf("twilio http %d: %s", e.StatusCode, e.APIError.Message)
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 4000 {
		msg = msg[:4000] + "..."
	}
	return fmt.Sprintf("twilio http %d: %s", e.StatusCode, msg)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func doJSON[T any](c *client, ctx context.Context, method, urlStr string) (*T, error) {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		out, resp, err := doJSONOnce[T](c, ctx, method, urlStr)
		if err == nil {
			return out, nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return nil, err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("Twilio request retrying",
			"url", urlStr,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return nil, fmt.Errorf("unreachable retry loop")
}

func doJSONOnce[T any](c *client, ctx context.Context, method, urlStr string) (*T, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, urlStr, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resp, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && strings.TrimSpace(ae.Message) != "" {
			return nil, resp, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw), APIError: &ae}
		}
		return nil, resp, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out T
	if len(raw) == 0 {
		return &out, resp, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp, fmt.Errorf("twilio decode error: %w; raw=%s", err, string(raw))
	}
	return &out, resp, nil
}

func (c *client) doMedia(ctx context.Context, urlStr string) ([]byte, string, error) {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}

		body, mime, resp, err := c.doMediaOnce(ctx, urlStr)
		if err == nil {
			return body, mime, nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return nil, "", err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("Twilio media fetch retrying",
			"url", urlStr,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return nil, "", fmt.Errorf("unreachable retry loop")
}

func (c *client) doMediaOnce(ctx context.Context, urlStr string) ([]byte, string, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), "GET", urlStr, nil)
	if err != nil {
		return nil, "", nil, err
	}
	req.Header.Set("Accept", "audio/*")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", resp, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, "", resp, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", resp, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	mime := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if mime == "" {
		mime = "audio/wav"
	}
	return raw, mime, resp, nil
}
