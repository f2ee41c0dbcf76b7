// Package diag probes candidate endpoints one after another and reports
// which of them accept a connection. It never touches the connection
// manager's state; a live connection can only be attached for reporting.
package diag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/endpoint"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/protocol"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/websockets"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 5 * time.Second
	DefaultSettle  = 2 * time.Second

	closeReason = "Test complete"
)

type Status string

const (
	StatusSuccess Status = "Success"
	StatusTimeout Status = "Timeout"
	StatusFailed  Status = "Failed"
)

// Result is the outcome of probing one candidate.
type Result struct {
	Form    endpoint.Form `json:"form"`
	URL     string        `json:"url"`
	Status  Status        `json:"status"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
	// Frames lists the types of the frames received while settling.
	Frames []string `json:"frames,omitempty"`
}

// ConnectionSnapshot is the state of an attached live connection.
type ConnectionSnapshot struct {
	State     string `json:"state"`
	Endpoint  string `json:"endpoint"`
	Attempts  int    `json:"attempts"`
	Exhausted bool   `json:"exhausted"`
	Messages  int    `json:"messages"`
}

type Report struct {
	Started    time.Time           `json:"started"`
	Results    []Result            `json:"results"`
	Connection *ConnectionSnapshot `json:"connection,omitempty"`
}

// Succeeded returns the candidates that accepted a connection.
func (r Report) Succeeded() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status == StatusSuccess {
			out = append(out, res)
		}
	}
	return out
}

type Prober struct {
	dialer     websockets.Dialer
	logger     *zap.Logger
	timeout    time.Duration
	settle     time.Duration
	connection glazing.Connection
	now        func() time.Time
}

type ProberBuilder struct {
	dialer     websockets.Dialer
	logger     *zap.Logger
	timeout    time.Duration
	settle     time.Duration
	connection glazing.Connection
}

func NewProber() *ProberBuilder {
	return &ProberBuilder{
		logger:  zap.NewNop(),
		timeout: DefaultTimeout,
		settle:  DefaultSettle,
	}
}

func (b *ProberBuilder) WithDialer(dialer websockets.Dialer) *ProberBuilder {
	b.dialer = dialer
	return b
}

func (b *ProberBuilder) WithLogger(logger *zap.Logger) *ProberBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithTimeout bounds each candidate's connection attempt.
func (b *ProberBuilder) WithTimeout(timeout time.Duration) *ProberBuilder {
	if timeout > 0 {
		b.timeout = timeout
	}
	return b
}

// WithSettle sets how long an opened probe stays open collecting frames
// before it is closed.
func (b *ProberBuilder) WithSettle(settle time.Duration) *ProberBuilder {
	if settle >= 0 {
		b.settle = settle
	}
	return b
}

// WithConnection attaches a live connection whose snapshot is included in
// every report.
func (b *ProberBuilder) WithConnection(conn glazing.Connection) *ProberBuilder {
	b.connection = conn
	return b
}

func (b *ProberBuilder) Build() *Prober {
	dialer := b.dialer
	if dialer == nil {
		dialer = websockets.NewDialer().WithLogger(b.logger).Build()
	}
	return &Prober{
		dialer:     dialer,
		logger:     b.logger,
		timeout:    b.timeout,
		settle:     b.settle,
		connection: b.connection,
		now:        time.Now,
	}
}

// Probe tries each candidate in order. A cancelled ctx stops the run; the
// results gathered so far are returned along with ctx's error.
func (p *Prober) Probe(ctx context.Context, candidates []endpoint.Candidate) (Report, error) {
	report := Report{Started: p.now()}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		p.logger.Info("Testing connection", zap.String("url", c.URL), zap.String("form", string(c.Form)))
		res := p.probeOne(ctx, c)
		report.Results = append(report.Results, res)
	}

	if p.connection != nil {
		report.Connection = &ConnectionSnapshot{
			State:     p.connection.State().String(),
			Endpoint:  p.connection.Endpoint(),
			Attempts:  p.connection.ReconnectAttempts(),
			Exhausted: p.connection.RetriesExhausted(),
			Messages:  len(p.connection.Transcript()),
		}
	}

	p.logger.Info("Testing complete", zap.Int("candidates", len(candidates)), zap.Int("succeeded", len(report.Succeeded())))
	return report, ctx.Err()
}

func (p *Prober) probeOne(ctx context.Context, c endpoint.Candidate) Result {
	started := p.now()
	res := Result{Form: c.Form, URL: c.URL}

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	t, err := p.dialer.Dial(dialCtx, c.URL)
	timedOut := errors.Is(dialCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		res.Elapsed = p.now().Sub(started)
		if timedOut || errors.Is(err, websockets.ErrDialTimeout) {
			res.Status = StatusTimeout
			res.Error = fmt.Sprintf("Connection timed out after %s", p.timeout)
		} else {
			res.Status = StatusFailed
			res.Error = err.Error()
		}
		p.logger.Warn("Connection test failed", zap.String("url", c.URL), zap.String("status", string(res.Status)), zap.Error(err))
		return res
	}

	p.logger.Info("Connection succeeded", zap.String("url", c.URL))
	res.Frames, err = p.settleOn(ctx, t)
	res.Elapsed = p.now().Sub(started)
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		return res
	}
	res.Status = StatusSuccess
	return res
}

// settleOn sends a ping, collects frames for the settle period and closes
// the socket normally.
func (p *Prober) settleOn(ctx context.Context, t websockets.Transport) ([]string, error) {
	var (
		mu     sync.Mutex
		frames []string
		wg     sync.WaitGroup
	)

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			data, err := t.Read(readCtx)
			if err != nil {
				return
			}
			frameType := "invalid"
			if f, err := protocol.Decode(data); err == nil {
				frameType = string(f.Type)
			}
			p.logger.Debug("Received probe frame", zap.String("type", frameType), zap.ByteString("data", data))
			mu.Lock()
			frames = append(frames, frameType)
			mu.Unlock()
		}
	}()

	ping, err := protocol.EncodeControl(protocol.FrameTypePing, p.now())
	if err == nil {
		err = t.Write(ctx, ping)
	}
	if err != nil {
		_ = t.CloseNow()
		wg.Wait()
		return nil, fmt.Errorf("failed to send ping: %w", err)
	}

	select {
	case <-time.After(p.settle):
	case <-ctx.Done():
	}

	if err := t.Close(websockets.StatusNormalClosure, closeReason); err != nil {
		p.logger.Debug("Error closing probe connection", zap.Error(err))
	}
	cancelRead()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return frames, nil
}
