// Package remote fetches the user collection from its HTTP endpoint.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/klauern/usersync/internal/logging"
	"github.com/klauern/usersync/internal/model"
)

var (
	// ErrNetwork is returned when the endpoint cannot be reached or answers
	// with a non-success status.
	ErrNetwork = errors.New("remote: network error")
	// ErrDecode is returned when the payload is not a JSON array of complete
	// records.
	ErrDecode = errors.New("remote: decode error")
)

// Source is the remote source consumed by the repository.
type Source interface {
	// FetchAll performs one round-trip and returns the full collection.
	FetchAll(ctx context.Context) ([]model.Record, error)
}

const (
	// DefaultBaseURL hosts the sample user collection.
	DefaultBaseURL = "https://raw.githubusercontent.com"
	// DefaultUsersPath is the path of the collection under DefaultBaseURL.
	DefaultUsersPath = "/downapp/sample/main/sample.json"
	// DefaultMediaBaseURL hosts profile pictures.
	DefaultMediaBaseURL = "https://down-static.s3.us-west-2.amazonaws.com"
	// DefaultTimeout bounds a single round-trip.
	DefaultTimeout = 15 * time.Second
	// DefaultMediaUserAgent is sent to the media host, which rejects
	// non-browser clients.
	DefaultMediaUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/86.0.4240.183 Safari/537.36"

	maxPayloadBytes = 32 << 20

	tracerName = "github.com/klauern/usersync/internal/remote"
)

// Options configures an HTTPSource.
type Options struct {
	// BaseURL is the scheme and host of the users endpoint.
	BaseURL string
	// UsersPath is appended to BaseURL.
	UsersPath string
	// MediaBaseURL resolves relative picture references.
	MediaBaseURL string
	// UserAgent is sent with collection requests. Empty leaves Go's default.
	UserAgent string
	// MediaUserAgent is sent with picture requests.
	MediaUserAgent string
	// Timeout bounds each request when Client is nil.
	Timeout time.Duration
	// Client overrides the HTTP client.
	Client *http.Client
	// TracerProvider overrides the global OpenTelemetry tracer provider.
	TracerProvider trace.TracerProvider
}

// DefaultOptions returns options pointing at the public sample endpoint.
func DefaultOptions() Options {
	return Options{
		BaseURL:        DefaultBaseURL,
		UsersPath:      DefaultUsersPath,
		MediaBaseURL:   DefaultMediaBaseURL,
		MediaUserAgent: DefaultMediaUserAgent,
		Timeout:        DefaultTimeout,
	}
}

// HTTPSource fetches the collection over HTTP.
type HTTPSource struct {
	opts   Options
	client *http.Client
	tracer trace.Tracer
}

// NewHTTPSource creates a source. Empty options fall back to DefaultOptions.
func NewHTTPSource(opts Options) *HTTPSource {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.UsersPath == "" {
		opts.UsersPath = def.UsersPath
	}
	if opts.MediaBaseURL == "" {
		opts.MediaBaseURL = def.MediaBaseURL
	}
	if opts.MediaUserAgent == "" {
		opts.MediaUserAgent = def.MediaUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	tracer := otel.Tracer(tracerName)
	if opts.TracerProvider != nil {
		tracer = opts.TracerProvider.Tracer(tracerName)
	}
	return &HTTPSource{opts: opts, client: client, tracer: tracer}
}

// UsersURL returns the full collection URL.
func (s *HTTPSource) UsersURL() string {
	return strings.TrimRight(s.opts.BaseURL, "/") + "/" + strings.TrimLeft(s.opts.UsersPath, "/")
}

// FetchAll implements Source.
func (s *HTTPSource) FetchAll(ctx context.Context) ([]model.Record, error) {
	endpoint := s.UsersURL()
	defer logging.Timer("remote.fetch_all")()

	ctx, span := s.tracer.Start(ctx, "remote.fetch_all",
		trace.WithAttributes(attribute.String("url", endpoint)),
	)
	defer span.End()

	body, err := s.get(ctx, endpoint, s.opts.UserAgent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}

	records, err := decodeRecords(body)
	if err != nil {
		logging.Debug("remote payload rejected", logging.URL(endpoint), logging.Err(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, endpoint, err)
	}
	span.SetAttributes(attribute.Int("records", len(records)))

	logging.Debug("fetched remote collection", logging.URL(endpoint), logging.Count(len(records)))
	return records, nil
}

// wireRecord is one element of the users payload. Every key is required and
// must not be null.
type wireRecord struct {
	ID            *int    `json:"user_id"`
	Name          *string `json:"name"`
	Age           *int    `json:"age"`
	Location      *string `json:"loc"`
	About         *string `json:"about_me"`
	ProfilePicURL *string `json:"profile_pic_url"`
}

func (w wireRecord) missing() []string {
	var keys []string
	if w.Name == nil {
		keys = append(keys, "name")
	}
	if w.ID == nil {
		keys = append(keys, "user_id")
	}
	if w.Age == nil {
		keys = append(keys, "age")
	}
	if w.Location == nil {
		keys = append(keys, "loc")
	}
	if w.About == nil {
		keys = append(keys, "about_me")
	}
	if w.ProfilePicURL == nil {
		keys = append(keys, "profile_pic_url")
	}
	return keys
}

// decodeRecords parses the payload, rejecting it as a whole when any element
// is incomplete.
func decodeRecords(body []byte) ([]model.Record, error) {
	var wire []wireRecord
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, err
	}
	if wire == nil {
		return nil, errors.New("payload is not an array")
	}

	records := make([]model.Record, 0, len(wire))
	for i, w := range wire {
		if keys := w.missing(); len(keys) > 0 {
			return nil, fmt.Errorf("record %d: missing %s", i, strings.Join(keys, ", "))
		}
		records = append(records, model.Record{
			ID:            *w.ID,
			Name:          *w.Name,
			Age:           *w.Age,
			Location:      *w.Location,
			About:         *w.About,
			ProfilePicURL: *w.ProfilePicURL,
		})
	}
	return records, nil
}

// FetchPicture downloads a profile picture. Absolute references are fetched
// as is; relative ones are resolved against the media host.
func (s *HTTPSource) FetchPicture(ctx context.Context, ref string) ([]byte, error) {
	target, err := s.resolveMedia(ref)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, target, s.opts.MediaUserAgent)
}

func (s *HTTPSource) resolveMedia(ref string) (string, error) {
	u := model.ParsePictureURL(ref)
	if u == nil {
		return "", fmt.Errorf("%w: invalid picture reference %q", ErrNetwork, ref)
	}
	if u.IsAbs() && u.Host != "" {
		return u.String(), nil
	}
	base, err := url.Parse(s.opts.MediaBaseURL)
	if err != nil {
		return "", fmt.Errorf("%w: media base url: %w", ErrNetwork, err)
	}
	return base.ResolveReference(u).String(), nil
}

func (s *HTTPSource) get(ctx context.Context, endpoint, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrNetwork, err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrNetwork, endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrNetwork, endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrNetwork, endpoint, err)
	}
	return body, nil
}
