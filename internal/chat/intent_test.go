package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/twinsight/internal/model"
)

var vocabulary = []model.CatalogEntry{
	{Kind: "space", Code: "PUMP-01", Name: "泵房"},
	{Kind: "space", Code: "R101", Name: "服务器机房"},
	{Kind: "space", Code: "R102", Name: "机房"},
	{Kind: "asset", Code: "AHU-01", Name: "空调机组"},
}

func TestHasSeriesIntent(t *testing.T) {
	assert.True(t, HasSeriesIntent("查询泵房温度趋势"))
	assert.True(t, HasSeriesIntent("show the Temperature history"))
	assert.False(t, HasSeriesIntent("这个设备的维护手册在哪"))
}

func TestCandidates_Order(t *testing.T) {
	got := Candidates("R2 和泵房的温度", vocabulary, "R202")
	require.Len(t, got, 4)
	assert.Equal(t, "R2", got[0])
	assert.Equal(t, "PUMP-01", got[1])
	assert.Equal(t, "r2 和泵房", got[2])
	assert.Equal(t, "R202", got[3])
}

func TestCandidates_LongestNameWins(t *testing.T) {
	got := Candidates("服务器机房温度", vocabulary, "")
	require.NotEmpty(t, got)
	assert.Equal(t, "R101", got[0])
}

func TestCandidates_StrippedMessage(t *testing.T) {
	got := Candidates("查询泵房温度趋势", nil, "")
	assert.Equal(t, []string{"泵房"}, got)
}

func TestCandidates_Deduplicates(t *testing.T) {
	got := Candidates("PUMP-01 温度", vocabulary, "pump-01")
	assert.Equal(t, []string{"PUMP-01"}, got)
}

type fakeCatalog struct {
	vocab   []model.CatalogEntry
	hits    map[string][]model.CatalogEntry
	err     error
	queries []string
}

func (f *fakeCatalog) SearchLocations(ctx context.Context, term string, modelID int64, limit int) ([]model.CatalogEntry, error) {
	f.queries = append(f.queries, term)
	return f.hits[term], f.err
}

func (f *fakeCatalog) LocationVocabulary(ctx context.Context, modelID int64) ([]model.CatalogEntry, error) {
	return f.vocab, f.err
}

type fakeSeries struct {
	tags    []string
	tagsErr error
	points  []model.Point
	stats   model.SeriesStats
	ranges  []seriesCall
	enabled bool
}

type seriesCall struct {
	tag        string
	start, end time.Time
	window     string
}

func (f *fakeSeries) Enabled(ctx context.Context) bool { return f.enabled }

func (f *fakeSeries) AvailableTags(ctx context.Context, lookback time.Duration) ([]string, error) {
	return f.tags, f.tagsErr
}

func (f *fakeSeries) QueryRange(ctx context.Context, tag string, start, end time.Time, window string) ([]model.Point, error) {
	f.ranges = append(f.ranges, seriesCall{tag: tag, start: start, end: end, window: window})
	return f.points, nil
}

func (f *fakeSeries) Stats(ctx context.Context, tag string, start, end time.Time) (model.SeriesStats, error) {
	return f.stats, nil
}

func TestTagResolver_Cascade(t *testing.T) {
	series := &fakeSeries{tags: []string{"R101", "PUMP-01", "AHU-01-T"}}
	catalog := &fakeCatalog{hits: map[string][]model.CatalogEntry{
		"水泵房": {{Kind: "space", Code: "PUMP-01", Name: "水泵房"}},
	}}
	r := NewTagResolver(catalog, series, nil)
	ctx := context.Background()

	tag, ok, err := r.Resolve(ctx, []string{"r101"}, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "R101", tag)

	tag, ok, err = r.Resolve(ctx, []string{"水泵房"}, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "PUMP-01", tag)

	tag, ok, err = r.Resolve(ctx, []string{"AHU-01"}, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "AHU-01-T", tag)
}

func TestTagResolver_NoMatch(t *testing.T) {
	r := NewTagResolver(&fakeCatalog{}, &fakeSeries{tags: []string{"R101"}}, nil)
	_, ok, err := r.Resolve(context.Background(), []string{"会议室", "x"}, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTagResolver_SearchFailureFallsThrough(t *testing.T) {
	r := NewTagResolver(&fakeCatalog{err: errors.New("db down")}, &fakeSeries{tags: []string{"ROOM-R101"}}, nil)
	tag, ok, err := r.Resolve(context.Background(), []string{"R101"}, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ROOM-R101", tag)
}

func TestTagResolver_TagListError(t *testing.T) {
	r := NewTagResolver(nil, &fakeSeries{tagsErr: errors.New("influx down")}, nil)
	_, _, err := r.Resolve(context.Background(), []string{"R101"}, 0)
	assert.Error(t, err)
}
