// Package httpjson provides a generic connector for upstream services
// exposing paginated JSON audit log endpoints. It covers the common
// shape: a list endpoint taking a lower-bound timestamp or opaque cursor,
// returning a page of records and a continuation cursor.
//
// Connector-specific fields carried in the configuration document:
//
//	url            endpoint to collect from (required)
//	auth           "bearer" (default), "oauth2", or "none"
//	token_url      OAuth2 token endpoint, when auth is "oauth2"
//	client_id      OAuth2 client identifier, when auth is "oauth2"
//	records_path   dotted path to the record list (default "entries")
//	cursor_path    dotted path to the continuation cursor (default "cursor")
//	pointer_path   dotted path inside each record whose value becomes
//	               the new pointer (default "timestamp")
//	since_param    query parameter carrying the pointer (default "since")
//	cursor_param   query parameter carrying the cursor (default "cursor")
//	rate_limit     client-side requests per second (default 10)
//	lookback_days  initial pointer offset on first run (default 7)
package httpjson

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/hashicorp-forge/grove/pkg/clients"
	"github.com/hashicorp-forge/grove/pkg/connector/core"
	"github.com/hashicorp-forge/grove/pkg/connector/registry"
	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/models"
	"github.com/hashicorp-forge/grove/pkg/paths"
)

// Name is the stable name configuration documents reference.
const Name = "http_json"

func init() {
	_ = registry.Register(Name, func(cfg *core.Config) (core.Connector, error) {
		endpoint := cfg.StringField("url", "")
		if endpoint == "" {
			return nil, errors.New(errors.ErrorTypeConfiguration, "http_json requires a 'url' field")
		}

		return &Connector{
			endpoint:     endpoint,
			auth:         cfg.StringField("auth", "bearer"),
			tokenURL:     cfg.StringField("token_url", ""),
			clientID:     cfg.StringField("client_id", ""),
			recordsPath:  cfg.StringField("records_path", "entries"),
			cursorPath:   cfg.StringField("cursor_path", "cursor"),
			pointerPath:  cfg.StringField("pointer_path", "timestamp"),
			sinceParam:   cfg.StringField("since_param", "since"),
			cursorParam:  cfg.StringField("cursor_param", "cursor"),
			rateLimit:    float64(cfg.IntField("rate_limit", 10)),
			lookbackDays: cfg.IntField("lookback_days", 7),
		}, nil
	})
}

// Connector collects audit records from a paginated JSON endpoint.
type Connector struct {
	endpoint     string
	auth         string
	tokenURL     string
	clientID     string
	recordsPath  string
	cursorPath   string
	pointerPath  string
	sinceParam   string
	cursorParam  string
	rateLimit    float64
	lookbackDays int
}

// Name returns the connector's stable name.
func (c *Connector) Name() string { return Name }

// Frequency returns the default interval between runs.
func (c *Connector) Frequency() time.Duration { return 10 * time.Minute }

// InitialPointer starts collection the configured number of days in the
// past.
func (c *Connector) InitialPointer(now time.Time) string {
	return now.UTC().AddDate(0, 0, -c.lookbackDays).Format(models.DatestampFormat)
}

// Collect pages through the upstream endpoint from the current pointer,
// emitting one batch per page. Each page's batch certifies the pointer
// taken from its newest record, so an interrupted run resumes at the
// last durable page.
func (c *Connector) Collect(ctx context.Context, run core.Run) error {
	client, err := c.client(ctx, run.Configuration())
	if err != nil {
		return err
	}

	cursor := ""
	pointer := run.Pointer()

	for {
		params := url.Values{}
		params.Set(c.sinceParam, pointer)
		if cursor != "" {
			params.Set(c.cursorParam, cursor)
		}

		body, err := client.GetJSON(ctx, c.endpoint, params)
		if err != nil {
			return err
		}

		page := make(map[string]interface{})
		if err := json.Unmarshal(body, &page); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "upstream response is not valid JSON")
		}

		batch, err := c.entries(page)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		// The newest record certifies the page. Records are expected in
		// chronological order; with an inclusive lower bound duplicates
		// are preferred over loss.
		next, found := paths.Get(batch[len(batch)-1], c.pointerPath)
		if !found {
			return errors.Newf(errors.ErrorTypeData, "pointer path %q was not found in returned logs", c.pointerPath)
		}
		pointer = fmt.Sprintf("%v", next)

		if err := run.Emit(ctx, batch, pointer); err != nil {
			return err
		}

		raw, found := paths.Get(page, c.cursorPath)
		if !found {
			return nil
		}
		cursor = fmt.Sprintf("%v", raw)
		if cursor == "" {
			return nil
		}
	}
}

func (c *Connector) client(ctx context.Context, cfg *core.Config) (*clients.HTTPClient, error) {
	config := clients.DefaultHTTPConfig()
	config.RateLimit = c.rateLimit

	client := clients.NewHTTPClient(config)

	switch c.auth {
	case "bearer":
		client.WithBearer(cfg.Key)
	case "oauth2":
		if c.tokenURL == "" || c.clientID == "" {
			return nil, errors.New(errors.ErrorTypeConfiguration, "http_json oauth2 requires 'token_url' and 'client_id'")
		}
		client.WithClientCredentials(ctx, c.clientID, cfg.Key, c.tokenURL, nil)
	case "none":
	default:
		return nil, errors.Newf(errors.ErrorTypeConfiguration, "http_json auth mode %q is not supported", c.auth)
	}
	return client, nil
}

func (c *Connector) entries(page map[string]interface{}) ([]models.Record, error) {
	raw, found := paths.Get(page, c.recordsPath)
	if !found {
		return nil, nil
	}

	elements, ok := raw.([]interface{})
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeData, "records path %q did not resolve to a list", c.recordsPath)
	}

	batch := make([]models.Record, 0, len(elements))
	for _, element := range elements {
		entry, ok := element.(map[string]interface{})
		if !ok {
			return nil, errors.New(errors.ErrorTypeData, "upstream returned a non-object record")
		}
		batch = append(batch, models.Record(entry))
	}
	return batch, nil
}
