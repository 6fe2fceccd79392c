package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/docketwatch/searchstream/internal/progress"
)

// Callbacks are invoked synchronously from the reader goroutine, in the
// order frames arrive. Any field may be nil. The client holds the latest
// set independently of the connection lifecycle, so callers can swap them
// without restarting the stream.
type Callbacks struct {
	// OnEvent receives every generic event: stage transitions, partial
	// results, and terminal frames. Routing-only frames are excluded.
	OnEvent func(progress.Event)
	// OnUnitStatus receives high-frequency per-unit updates.
	OnUnitStatus func(progress.UnitStatusDetail)
	// OnBatch receives batch_progress updates.
	OnBatch func(progress.BatchDetail)
	// OnUnavailable fires exactly once per job, after the single retry is
	// exhausted. It signals the caller to fall back to simulated progress.
	OnUnavailable func()
}

// Options configures a Client.
type Options struct {
	// Endpoint is the progress stream URL, e.g.
	// https://api.example.com/v1/progress. Required.
	Endpoint string
	// HTTPClient defaults to http.DefaultClient. It must not carry a
	// global timeout: the stream stays open for the job's lifetime.
	HTTPClient *http.Client
	// RetryDelay is the wait before the single reconnection attempt.
	// Defaults to DefaultRetryDelay.
	RetryDelay time.Duration
	// Publisher optionally receives every dispatched frame, wrapped in an
	// Update, for observer sinks.
	Publisher progress.Publisher
	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

// Subscription identifies one backend search execution to follow.
type Subscription struct {
	// JobID correlates the stream with the backend search. Empty disables
	// the subsystem, as does Enabled=false.
	JobID string
	// Token is an optional bearer token, carried as a query parameter
	// because the transport cannot send custom headers.
	Token string
	// Units pre-seeds the unit-status map; every listed unit starts
	// pending before the first frame is processed.
	Units []string
	// Enabled gates the whole subsystem.
	Enabled bool
}

// Client owns at most one streaming connection at a time. Start tears down
// any prior connection before opening the next one; all state is exposed
// synchronously via Snapshot.
type Client struct {
	endpoint   string
	httpClient *http.Client
	retryDelay time.Duration
	publisher  progress.Publisher
	logger     *zap.Logger

	callbacks atomic.Pointer[Callbacks]
	state     *progress.State

	mu      sync.Mutex
	session *session
	jobID   string
}

type session struct {
	cancel context.CancelFunc
	done   chan struct{}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// New validates the options and returns a stopped Client.
func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("stream: endpoint is required")
	}
	if _, err := url.Parse(opts.Endpoint); err != nil {
		return nil, fmt.Errorf("stream: parse endpoint: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		endpoint:   opts.Endpoint,
		httpClient: httpClient,
		retryDelay: opts.RetryDelay,
		publisher:  opts.Publisher,
		logger:     logger,
		state:      progress.NewState(),
	}
	c.callbacks.Store(&Callbacks{})
	return c, nil
}

// SetCallbacks installs the latest caller callbacks without touching the
// connection. Safe to call at any time, including mid-stream.
func (c *Client) SetCallbacks(cb Callbacks) {
	c.callbacks.Store(&cb)
}

// Snapshot returns the current value of every state slice plus derived
// totals. Never blocks on the network.
func (c *Client) Snapshot() progress.Snapshot {
	return c.state.Snapshot()
}

// Start subscribes to the given job. Any prior connection is fully closed
// first, and all state slices reset, so at most one connection is ever
// open. A disabled or empty subscription just performs the teardown.
func (c *Client) Start(ctx context.Context, sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.state.Reset(sub.Units)
	c.jobID = sub.JobID

	if !sub.Enabled || sub.JobID == "" {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	sess := &session{cancel: cancel, done: make(chan struct{})}
	c.session = sess
	go c.run(runCtx, sub, newRetryPolicy(c.retryDelay), sess.done)
}

// Stop closes the current connection, if any. Idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Client) stopLocked() {
	if c.session == nil {
		return
	}
	c.session.cancel()
	<-c.session.done
	c.session = nil
}

// Done returns a channel closed when the current session ends, whether by
// terminal stage, retry exhaustion, or Stop. Returns a closed channel when
// no session is active.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return closedChan
	}
	return c.session.done
}

func (c *Client) run(ctx context.Context, sub Subscription, policy *retryPolicy, done chan struct{}) {
	defer close(done)
	for {
		terminal, err := c.consume(ctx, sub, policy)
		if terminal || ctx.Err() != nil {
			return
		}
		delay, ok := policy.onError()
		if !ok {
			c.logger.Warn("progress stream unavailable, falling back",
				zap.String("job_id", sub.JobID), zap.Error(err))
			c.state.MarkUnavailable()
			if cb := c.callbacks.Load(); cb.OnUnavailable != nil {
				cb.OnUnavailable()
			}
			return
		}
		c.logger.Warn("progress stream lost, scheduling reconnect",
			zap.String("job_id", sub.JobID), zap.Duration("delay", delay), zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// consume opens the connection and dispatches frames until a terminal
// stage, the context ends, or the transport fails. The response body is
// the only resource; the deferred close makes terminal teardown idempotent.
func (c *Client) consume(ctx context.Context, sub Subscription, policy *retryPolicy) (terminal bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.streamURL(sub), nil)
	if err != nil {
		return false, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("open stream: unexpected status %d", resp.StatusCode)
	}

	policy.onConnected()
	c.state.SetConnected(true)
	defer c.state.SetConnected(false)
	c.logger.Debug("progress stream connected", zap.String("job_id", sub.JobID))

	reader := NewFrameReader(resp.Body)
	for {
		frame, err := reader.Next()
		if err != nil {
			// Includes io.EOF: a close without a terminal stage is a
			// transport failure as far as the retry policy is concerned.
			return false, fmt.Errorf("read stream: %w", err)
		}
		if frame.Data == "" {
			continue
		}
		if c.dispatch(sub.JobID, frame) {
			return true, nil
		}
	}
}

// dispatch parses and routes one frame, returning true on terminal stages.
// Malformed frames are logged and skipped without closing the connection.
func (c *Client) dispatch(jobID string, frame Frame) (terminal bool) {
	evt, err := progress.DecodeEvent([]byte(frame.Data), progress.Stage(frame.Name))
	if err != nil {
		c.logger.Warn("skipping malformed progress frame",
			zap.String("job_id", jobID), zap.String("event", frame.Name), zap.Error(err))
		return false
	}
	if err := evt.Validate(); err != nil {
		c.logger.Warn("skipping invalid progress frame",
			zap.String("job_id", jobID), zap.Error(err))
		return false
	}

	c.state.Apply(evt)
	if c.publisher != nil {
		c.publisher.Publish(progress.Update{JobID: jobID, At: time.Now(), Event: evt})
	}

	cb := c.callbacks.Load()
	switch evt.Stage {
	case progress.StageUnitStatus:
		if cb.OnUnitStatus != nil {
			cb.OnUnitStatus(*evt.UnitStatus)
		}
	case progress.StageBatchProgress:
		if cb.OnBatch != nil {
			cb.OnBatch(*evt.Batch)
		}
	default:
		if cb.OnEvent != nil {
			cb.OnEvent(evt)
		}
	}
	return evt.Stage.Terminal()
}

func (c *Client) streamURL(sub Subscription) string {
	q := url.Values{}
	q.Set("job_id", sub.JobID)
	if sub.Token != "" {
		q.Set("token", sub.Token)
	}
	return c.endpoint + "?" + q.Encode()
}
