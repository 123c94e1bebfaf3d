// Package timeseries reads sensor series from InfluxDB.
package timeseries

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/model"
	"github.com/ppiankov/twinsight/internal/settings"
)

// SettingsReader exposes runtime settings
type SettingsReader interface {
	Get(ctx context.Context, key, def string) string
	GetBool(ctx context.Context, key string, def bool) bool
}

// Params are the connection parameters in effect for a query
type Params struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Enabled bool
}

// Client queries InfluxDB. The underlying connection is built on first use
// and rebuilt whenever the connection parameters change.
type Client struct {
	settings SettingsReader
	defaults model.TimeSeriesConfig
	logger   *zap.Logger

	mu     sync.Mutex
	client influxdb2.Client
	params Params
}

// NewClient creates a lazily connected client
func NewClient(s SettingsReader, defaults model.TimeSeriesConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults.Measurement == "" {
		defaults.Measurement = "room_temp"
	}
	if defaults.TagKey == "" {
		defaults.TagKey = "room"
	}
	if defaults.Field == "" {
		defaults.Field = "value"
	}
	return &Client{
		settings: s,
		defaults: defaults,
		logger:   logger,
	}
}

// ResolveParams reads the current connection parameters. Settings override
// the static configuration.
func (c *Client) ResolveParams(ctx context.Context) Params {
	d := c.defaults
	if c.settings == nil {
		return Params{URL: d.URL, Token: d.Token, Org: d.Org, Bucket: d.Bucket, Enabled: d.Enabled}
	}

	url := c.settings.Get(ctx, settings.KeyInfluxURL, d.URL)
	if port := c.settings.Get(ctx, settings.KeyInfluxPort, ""); port != "" && !strings.HasSuffix(url, ":"+port) {
		url = strings.TrimSuffix(url, "/") + ":" + port
	}
	return Params{
		URL:     url,
		Token:   c.settings.Get(ctx, settings.KeyInfluxToken, d.Token),
		Org:     c.settings.Get(ctx, settings.KeyInfluxOrg, d.Org),
		Bucket:  c.settings.Get(ctx, settings.KeyInfluxBucket, d.Bucket),
		Enabled: c.settings.GetBool(ctx, settings.KeyInfluxEnabled, d.Enabled),
	}
}

func (c *Client) queryAPI(ctx context.Context) (api.QueryAPI, seriesSpec, error) {
	p := c.ResolveParams(ctx)
	spec := seriesSpec{
		bucket:      p.Bucket,
		measurement: c.defaults.Measurement,
		tagKey:      c.defaults.TagKey,
		field:       c.defaults.Field,
	}

	if !p.Enabled {
		return nil, spec, fmt.Errorf("%w: time-series backend disabled", model.ErrConfigurationMissing)
	}
	switch {
	case p.URL == "":
		return nil, spec, model.MissingConfig(settings.KeyInfluxURL)
	case p.Token == "":
		return nil, spec, model.MissingConfig(settings.KeyInfluxToken)
	case p.Org == "":
		return nil, spec, model.MissingConfig(settings.KeyInfluxOrg)
	case p.Bucket == "":
		return nil, spec, model.MissingConfig(settings.KeyInfluxBucket)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil || c.params.URL != p.URL || c.params.Token != p.Token || c.params.Org != p.Org {
		if c.client != nil {
			c.client.Close()
		}
		c.client = influxdb2.NewClient(p.URL, p.Token)
		c.logger.Info("time-series client created",
			zap.String("url", p.URL),
			zap.String("org", p.Org),
		)
	}
	c.params = p

	return c.client.QueryAPI(p.Org), spec, nil
}

// Enabled reports whether the backend is switched on and configured
func (c *Client) Enabled(ctx context.Context) bool {
	p := c.ResolveParams(ctx)
	return p.Enabled && p.URL != "" && p.Token != ""
}

// AvailableTags lists tag values that reported data within lookback
func (c *Client) AvailableTags(ctx context.Context, lookback time.Duration) ([]string, error) {
	q, spec, err := c.queryAPI(ctx)
	if err != nil {
		return nil, err
	}

	result, err := q.Query(ctx, spec.tagValuesQuery(lookback))
	if err != nil {
		return nil, fmt.Errorf("InfluxDB query failed: %w", err)
	}
	defer func() { _ = result.Close() }()

	tags := []string{}
	for result.Next() {
		if v, ok := result.Record().Value().(string); ok && v != "" {
			tags = append(tags, v)
		}
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error reading InfluxDB results: %w", result.Err())
	}
	return tags, nil
}

// QueryRange returns the series for tag between start and end, aggregated
// by window when window is non-empty
func (c *Client) QueryRange(ctx context.Context, tag string, start, end time.Time, window string) ([]model.Point, error) {
	q, spec, err := c.queryAPI(ctx)
	if err != nil {
		return nil, err
	}

	flux, err := spec.rangeQuery(tag, start, end, window)
	if err != nil {
		return nil, err
	}

	result, err := q.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("InfluxDB query failed: %w", err)
	}
	defer func() { _ = result.Close() }()

	points := []model.Point{}
	for result.Next() {
		rec := result.Record()
		v, ok := toFloat(rec.Value())
		if !ok {
			continue
		}
		points = append(points, model.Point{
			Timestamp: rec.Time().UnixMilli(),
			Value:     v,
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error reading InfluxDB results: %w", result.Err())
	}
	return points, nil
}

// Stats returns min, max, mean and count for tag between start and end
func (c *Client) Stats(ctx context.Context, tag string, start, end time.Time) (model.SeriesStats, error) {
	var stats model.SeriesStats

	q, spec, err := c.queryAPI(ctx)
	if err != nil {
		return stats, err
	}

	result, err := q.Query(ctx, spec.statsQuery(tag, start, end))
	if err != nil {
		return stats, fmt.Errorf("InfluxDB query failed: %w", err)
	}
	defer func() { _ = result.Close() }()

	for result.Next() {
		rec := result.Record()
		v, ok := toFloat(rec.Value())
		if !ok {
			continue
		}
		switch rec.Result() {
		case "min":
			stats.Min = v
		case "max":
			stats.Max = v
		case "mean":
			stats.Mean = v
		case "count":
			stats.Count = int64(v)
		}
	}
	if result.Err() != nil {
		return stats, fmt.Errorf("error reading InfluxDB results: %w", result.Err())
	}
	return stats, nil
}

// Close releases the underlying connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
