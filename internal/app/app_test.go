package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/twinsight/internal/model"
	"github.com/ppiankov/twinsight/internal/pipeline"
)

type recordingProcessor struct {
	mu      sync.Mutex
	calls   []model.Alert
	opts    pipeline.AlertOptions
	err     error
	done    chan struct{}
	release chan struct{}
}

func (r *recordingProcessor) ProcessAlert(ctx context.Context, alert model.Alert, opts pipeline.AlertOptions) (*model.AnalysisResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, alert)
	r.opts = opts
	ctxErr := ctx.Err()
	r.mu.Unlock()
	if r.done != nil {
		close(r.done)
	}
	if r.release != nil {
		<-r.release
	}
	if ctxErr != nil {
		return nil, ctxErr
	}
	return &model.AnalysisResult{}, r.err
}

var pumpAlert = model.Alert{LocationCode: "PUMP-01", Field: "temperature", Value: 41, RuleID: 2}

func TestDispatcher_Sync(t *testing.T) {
	p := &recordingProcessor{err: errors.New("workflow down")}
	d := NewDispatcher(p, DispatchSync, "http://api.local", nil, nil)

	err := d.Dispatch(context.Background(), pumpAlert)
	require.Error(t, err)
	require.Len(t, p.calls, 1)
	assert.Equal(t, "http://api.local", p.opts.APIBaseURL)
}

func TestDispatcher_AsyncOutlivesRequest(t *testing.T) {
	p := &recordingProcessor{done: make(chan struct{})}
	d := NewDispatcher(p, DispatchAsync, "http://api.local", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Dispatch(ctx, pumpAlert))
	cancel()

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("background analysis did not run")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.calls, 1)
	assert.Equal(t, "PUMP-01", p.calls[0].LocationCode)
}

func TestDispatcher_None(t *testing.T) {
	p := &recordingProcessor{}
	d := NewDispatcher(p, DispatchNone, "", nil, nil)

	require.NoError(t, d.Dispatch(context.Background(), pumpAlert))
	assert.Empty(t, p.calls)
}

func TestApp_CloseDrainsBackgroundAnalyses(t *testing.T) {
	p := &recordingProcessor{done: make(chan struct{}), release: make(chan struct{})}
	a := &App{}
	d := NewDispatcher(p, DispatchAsync, "", &a.background, nil)
	require.NoError(t, d.Dispatch(context.Background(), pumpAlert))

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("background analysis did not start")
	}

	closed := make(chan struct{})
	go func() {
		a.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while an analysis was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(p.release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the analysis finished")
	}
}
