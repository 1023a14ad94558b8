// Package terminology fetches ValueSet resources from remote terminology
// servers so they can be imported into a questionnaire.
package terminology

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/ehr/qeditor/internal/platform/fhir"
)

var (
	ErrNoValueSets        = errors.New("response contains no value sets")
	ErrUnexpectedResource = errors.New("unexpected resource type")
	ErrUnexpectedStatus   = errors.New("unexpected response status")
	ErrResponseTooLarge   = errors.New("response exceeds maximum size")
)

// MaxResponseSize bounds the body read from a terminology server.
const MaxResponseSize = 10 * 1024 * 1024

// Options configures New.
type Options struct {
	Timeout  time.Duration
	RetryMax int
}

// Client downloads ValueSets over HTTP with retries.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

// New creates a Client that retries failed requests up to opts.RetryMax times.
func New(opts Options, log zerolog.Logger) *Client {
	log = log.With().Str("component", "terminology").Logger()

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = leveledLogger{log: log}
	retryClient.HTTPClient = &http.Client{Timeout: opts.Timeout}

	return &Client{http: retryClient.StandardClient(), log: log}
}

// FetchValueSets downloads url and returns every ValueSet it holds. The
// response may be a single ValueSet or a Bundle of them; non-ValueSet bundle
// entries are skipped.
func (c *Client) FetchValueSets(ctx context.Context, url string) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json, application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(data) > MaxResponseSize {
		return nil, ErrResponseTooLarge
	}

	valueSets, err := ExtractValueSets(data)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("url", url).Int("count", len(valueSets)).Msg("fetched value sets")
	return valueSets, nil
}

// ExtractValueSets returns the ValueSets of a ValueSet or Bundle document.
func ExtractValueSets(data []byte) ([]json.RawMessage, error) {
	rt, err := fhir.ResourceTypeOf(data)
	if err != nil {
		return nil, err
	}
	switch rt {
	case fhir.ResourceValueSet:
		return []json.RawMessage{data}, nil
	case fhir.ResourceBundle:
		b, err := fhir.DecodeBundle(data)
		if err != nil {
			return nil, err
		}
		var out []json.RawMessage
		for i, t := range b.EntryResourceTypes() {
			if t == fhir.ResourceValueSet {
				out = append(out, b.Entry[i].Resource)
			}
		}
		if len(out) == 0 {
			return nil, ErrNoValueSets
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedResource, rt)
	}
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.event(l.log.Error(), msg, kv) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.event(l.log.Debug(), msg, kv) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.event(l.log.Debug(), msg, kv) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.event(l.log.Warn(), msg, kv) }

func (l leveledLogger) event(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Str(key, fmt.Sprint(kv[i+1]))
	}
	e.Msg(msg)
}
