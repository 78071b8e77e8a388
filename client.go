package questionbank

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is Gemini's OpenAI-compatible endpoint
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// TextGenerator produces a completion for a user prompt and a system prompt
type TextGenerator interface {
	Generate(ctx context.Context, prompt, systemPrompt string, temperature float32) (string, error)
}

// ClientConfig configures a Client
type ClientConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	MaxTokens         int
	MaxAttempts       int           // total attempts, including the first
	BaseBackoff       time.Duration // 429 backoff is BaseBackoff * 2^attempt without a server hint
	ErrorBackoff      time.Duration // fixed wait after any other failure
	RequestsPerMinute int           // client-side pacing, 0 disables it
}

func (cfg *ClientConfig) setDefaults() {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 2 * time.Second
	}
}

// Client calls a rate-limited chat completion endpoint with retry, backoff and
// a throttle shared with every other client of the same endpoint
type Client struct {
	api      *openai.Client
	cfg      ClientConfig
	throttle *Throttle
	pacer    *rate.Limiter
	metrics  *Metrics

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
	now    func() time.Time
}

// NewClient creates a Client. throttle may be shared; a nil throttle gets a private one.
func NewClient(cfg ClientConfig, throttle *Throttle, metrics *Metrics) *Client {
	cfg.setDefaults()
	if throttle == nil {
		throttle = NewThrottle()
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL

	c := &Client{
		api:      openai.NewClientWithConfig(apiCfg),
		cfg:      cfg,
		throttle: throttle,
		metrics:  metrics,
		sleep:    sleepContext,
		jitter:   func() time.Duration { return time.Duration(rand.Int63n(int64(time.Second))) },
		now:      time.Now,
	}
	if cfg.RequestsPerMinute > 0 {
		c.pacer = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c
}

// Throttle returns the throttle this client publishes to
func (c *Client) Throttle() *Throttle {
	return c.throttle
}

var retryHint = regexp.MustCompile(`retry in (\d+(\.\d+)?)s`)

// Generate sends one completion request, retrying throttled and transient failures.
// It fails with *RateLimitExhaustedError, ErrInvalidCredential or *GenerationError.
func (c *Client) Generate(ctx context.Context, prompt, systemPrompt string, temperature float32) (string, error) {
	if wait := c.throttle.Remaining(); wait > 0 {
		Log().Infow("global rate limit active, waiting", "wait", wait.Round(time.Second))
		if err := c.sleep(ctx, wait); err != nil {
			return "", err
		}
		c.throttle.Clear()
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				return "", err
			}
		}

		text, err := c.complete(ctx, prompt, systemPrompt, temperature)
		if err == nil {
			c.metrics.attempt("ok")
			c.throttle.Clear()
			return text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		switch statusCode(err) {
		case http.StatusTooManyRequests:
			c.metrics.attempt("throttled")
			wait := c.backoff(attempt, err)
			c.throttle.Until(c.now().Add(wait))
			c.metrics.throttled(wait)
			if attempt == c.cfg.MaxAttempts-1 {
				Log().Warnw("rate limit exhausted after max attempts", "attempts", attempt+1)
				return "", &RateLimitExhaustedError{Attempts: attempt + 1, Wait: wait}
			}
			Log().Warnw("rate limited, retrying", "attempt", attempt+1, "wait", wait.Round(time.Millisecond))
			if err := c.sleep(ctx, wait); err != nil {
				return "", err
			}

		case http.StatusForbidden:
			c.metrics.attempt("credential")
			return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)

		default:
			c.metrics.attempt("error")
			lastErr = err
			if attempt == c.cfg.MaxAttempts-1 {
				break
			}
			Log().Warnw("generation request failed, retrying",
				"attempt", attempt+1, "max_attempts", c.cfg.MaxAttempts, "error", err)
			if err := c.sleep(ctx, c.cfg.ErrorBackoff); err != nil {
				return "", err
			}
		}
	}
	return "", &GenerationError{Attempts: c.cfg.MaxAttempts, Err: lastErr}
}

func (c *Client) complete(ctx context.Context, prompt, systemPrompt string, temperature float32) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no content generated")
	}
	choice := resp.Choices[0]
	if choice.Message.Content == "" && choice.FinishReason != openai.FinishReasonStop {
		reason := string(choice.FinishReason)
		if reason == "" {
			reason = "no content generated"
		}
		return "", errors.New(reason)
	}
	return choice.Message.Content, nil
}

// backoff returns the wait after a 429: the server hint if present, else
// BaseBackoff * 2^attempt, plus up to one second of jitter
func (c *Client) backoff(attempt int, err error) time.Duration {
	wait := c.cfg.BaseBackoff << uint(attempt)
	if hint, ok := parseRetryHint(errorMessage(err)); ok {
		wait = hint
	}
	return wait + c.jitter()
}

func parseRetryHint(msg string) (time.Duration, bool) {
	m := retryHint.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func errorMessage(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// stripCodeFences removes Markdown code fences around model output
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```markdown")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
