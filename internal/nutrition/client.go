// Package nutrition looks up nutrition facts for a food label.
package nutrition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/smartbite/smartbite/internal/metrics"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://platform.fatsecret.com/rest/server.api"
	DefaultTimeout = 10 * time.Second

	// ServingSize describes every record; the API's search descriptions are
	// normalized to 100g.
	ServingSize = "per 100g equivalent"
)

var ErrNutritionAPI = errors.New("nutrition api error")

// APIError is any failure to obtain a record from the nutrition API.
type APIError struct {
	Label      string
	StatusCode int

	// Code and Message come from an error object in the response body.
	Code    int
	Message string
	Timeout bool
	Err     error
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "nutrition lookup for %q failed", e.Label)
	if e.StatusCode != 0 && e.StatusCode != http.StatusOK {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, ": api error %d", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Is(target error) bool { return target == ErrNutritionAPI }

// Info is a normalized nutrition record. Nutrient values are kept as the
// API wrote them, units included, or Sentinel.
type Info struct {
	ServingSize   string  `json:"serving_size"`
	Calories      string  `json:"calories"`
	Protein       string  `json:"protein"`
	Carbohydrates string  `json:"carbohydrates"`
	Fat           string  `json:"fat"`
	FoodURL       *string `json:"food_url,omitempty"`
}

// Complete reports whether every nutrient was parsed.
func (i *Info) Complete() bool {
	return i.Calories != Sentinel && i.Protein != Sentinel &&
		i.Carbohydrates != Sentinel && i.Fat != Sentinel
}

func newInfo(facts Facts, foodURL string) *Info {
	info := &Info{
		ServingSize:   ServingSize,
		Calories:      facts.Calories,
		Protein:       facts.Protein,
		Carbohydrates: facts.Carbohydrates,
		Fat:           facts.Fat,
	}
	if foodURL != "" {
		info.FoodURL = &foodURL
	}
	return info
}

// Source is anything that can look up nutrition for a label.
type Source interface {
	Lookup(ctx context.Context, label string) (*Info, error)
}

type ClientOpts struct {
	BaseURL        string
	ClientKey      string
	ClientSecret   string
	Timeout        time.Duration
	MismatchPolicy MismatchPolicy

	// RateLimit is requests per second. Zero disables limiting.
	RateLimit float64

	// Signer overrides the default signer built from the key and secret.
	Signer *Signer
}

// Client queries the food search endpoint. It is safe for concurrent use.
type Client struct {
	httpClient *resty.Client
	baseURL    string
	timeout    time.Duration
	signer     *Signer
	limiter    *rate.Limiter
	parser     *Parser
	policy     MismatchPolicy
	group      singleflight.Group
}

func NewClient(opts ClientOpts) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		signer:  opts.Signer,
		parser:  NewParser(),
		policy:  opts.MismatchPolicy,
	}
	if opts.BaseURL != "" {
		c.baseURL = opts.BaseURL
	}
	if c.signer == nil {
		c.signer = NewSigner(opts.ClientKey, opts.ClientSecret)
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	c.timeout = opts.Timeout
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	c.httpClient = resty.New().
		SetDebug(false).
		SetTimeout(c.timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return c
}

// Lookup returns nutrition for the first food matching label. Concurrent
// lookups of the same label share one request. The shared request is not
// tied to any one caller: a caller that gives up only abandons its own wait.
func (c *Client) Lookup(ctx context.Context, label string) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, &APIError{Label: label, Timeout: isTimeout(err), Err: err}
	}

	ch := c.group.DoChan(label, func() (any, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.lookup(sharedCtx, label)
	})

	select {
	case <-ctx.Done():
		err := ctx.Err()
		return nil, &APIError{Label: label, Timeout: isTimeout(err), Err: err}
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			log.Debug().Str("label", label).Msg("shared nutrition lookup")
		}
		info := *r.Val.(*Info)
		return &info, nil
	}
}

func (c *Client) lookup(ctx context.Context, label string) (*Info, error) {
	start := time.Now()
	info, outcome, err := c.search(ctx, label)
	metrics.NutritionLookupDurationSeconds.Observe(time.Since(start).Seconds())
	metrics.NutritionLookupsTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		log.Error().Err(err).Str("label", label).Msg("nutrition lookup failed")
		return nil, err
	}
	return info, nil
}

func (c *Client) search(ctx context.Context, label string) (*Info, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "error", &APIError{Label: label, Message: "rate limiter", Err: err}
		}
	}

	params := url.Values{
		"method":            {"foods.search"},
		"search_expression": {label},
		"format":            {"json"},
	}
	signed := c.signer.Sign(http.MethodGet, c.baseURL, params)

	res, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParamsFromValues(signed).
		Get(c.baseURL)
	if err != nil {
		return nil, "error", &APIError{Label: label, Timeout: isTimeout(err), Err: c.redact(err)}
	}
	if res.StatusCode() != http.StatusOK {
		return nil, "error", &APIError{
			Label:      label,
			StatusCode: res.StatusCode(),
			Message:    strings.TrimSpace(truncate(res.String(), 200)),
		}
	}

	var body searchResponse
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		return nil, "error", &APIError{Label: label, StatusCode: res.StatusCode(), Message: "invalid response body", Err: err}
	}
	if apiErr := body.apiError(); apiErr != nil {
		return nil, "error", &APIError{
			Label:      label,
			StatusCode: res.StatusCode(),
			Code:       apiErr.Code,
			Message:    apiErr.Message,
		}
	}
	if body.Foods == nil || len(body.Foods.Food) == 0 {
		return nil, "error", &APIError{Label: label, StatusCode: res.StatusCode(), Message: "no foods found"}
	}

	food := body.Foods.Food[0]
	parsed := c.parser.Parse(food.FoodDescription)
	if parsed.OK {
		return newInfo(parsed.Facts, food.FoodURL), "ok", nil
	}

	if c.policy == HardMismatch {
		return nil, "error", &APIError{Label: label, StatusCode: res.StatusCode(), Message: parsed.Reason}
	}
	log.Warn().
		Str("label", label).
		Str("food", food.FoodName).
		Str("reason", parsed.Reason).
		Msg("unparseable food description, using sentinels")
	return newInfo(sentinelFacts(), food.FoodURL), "mismatch", nil
}

type searchResponse struct {
	Error json.RawMessage `json:"error"`
	Foods *struct {
		Food foodList `json:"food"`
	} `json:"foods"`
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// apiError returns the embedded error object, if any. An error value that
// is not an object still counts as an error.
func (r *searchResponse) apiError() *errorBody {
	raw := bytes.TrimSpace(r.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var e errorBody
	if err := json.Unmarshal(raw, &e); err != nil {
		return &errorBody{Message: string(raw)}
	}
	if e.Message == "" {
		e.Message = "error in response body"
	}
	return &e
}

type foodEntry struct {
	FoodName        string `json:"food_name"`
	FoodDescription string `json:"food_description"`
	FoodURL         string `json:"food_url"`
}

// foodList accepts both a single object and an array; the API collapses
// one-element results into an object.
type foodList []foodEntry

func (l *foodList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*l = nil
		return nil
	case data[0] == '[':
		var entries []foodEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return err
		}
		*l = entries
		return nil
	default:
		var entry foodEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		*l = foodList{entry}
		return nil
	}
}

// redact drops the signed query string from transport errors so credentials
// and signatures never reach logs or callers.
func (c *Client) redact(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	endpoint := c.baseURL
	if u, perr := url.Parse(c.baseURL); perr == nil {
		u.RawQuery = ""
		u.User = nil
		endpoint = u.String()
	}
	return fmt.Errorf("%s %s: %w", urlErr.Op, endpoint, urlErr.Err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
