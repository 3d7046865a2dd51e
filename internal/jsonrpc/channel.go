package jsonrpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"murmur/internal/eventbus"
	"murmur/internal/logging"
	"murmur/internal/services"
)

// DefaultCallTimeout applies when a call does not specify its own deadline.
const DefaultCallTimeout = 300 * time.Second

const component = "jsonrpc"

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger used for protocol diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithExternalTeardown leaves teardown to the owner when the read side hits
// EOF. The owner watches ReadDone and calls Close with its own cause.
func WithExternalTeardown() Option {
	return func(c *Channel) {
		c.externalTeardown = true
	}
}

// WithDefaultTimeout overrides DefaultCallTimeout.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(c *Channel) {
		if timeout > 0 {
			c.defaultTimeout = timeout
		}
	}
}

type callResult struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	id     int64
	method string
	result chan callResult
	timer  *time.Timer
}

// Channel multiplexes JSON-RPC calls over a pair of byte streams.
type Channel struct {
	reader         io.Reader
	writer         io.Writer
	logger         *slog.Logger
	defaultTimeout time.Duration

	externalTeardown bool
	readDone         chan struct{}

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[int64]*pendingCall
	nextID   int64
	closed   bool
	closeErr error

	startOnce sync.Once
	done      chan struct{}

	listenersMu sync.Mutex
	listeners   map[string]*eventbus.Bus[json.RawMessage]
	anyBus      *eventbus.Bus[Notification]
}

// New builds a channel that reads responses from r and writes requests to w.
// Call Start to begin reading.
func New(r io.Reader, w io.Writer, opts ...Option) *Channel {
	c := &Channel{
		reader:         r,
		writer:         w,
		logger:         logging.NewNop(),
		defaultTimeout: DefaultCallTimeout,
		pending:        make(map[int64]*pendingCall),
		done:           make(chan struct{}),
		readDone:       make(chan struct{}),
		listeners:      make(map[string]*eventbus.Bus[json.RawMessage]),
		anyBus:         eventbus.New[Notification](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, component)
	return c
}

// Start launches the read loop. Later calls are no-ops.
func (c *Channel) Start() {
	c.startOnce.Do(func() {
		go c.readLoop()
	})
}

// Done is closed once the channel has been torn down.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// ReadDone is closed once the reader has been drained to EOF or failed.
func (c *Channel) ReadDone() <-chan struct{} {
	return c.readDone
}

// Err returns the teardown cause, if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Pending reports the number of calls awaiting a response.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// OnNotification registers fn for notifications with the given method.
func (c *Channel) OnNotification(method string, fn func(json.RawMessage)) func() {
	c.listenersMu.Lock()
	bus, ok := c.listeners[method]
	if !ok {
		bus = eventbus.New[json.RawMessage]()
		c.listeners[method] = bus
	}
	c.listenersMu.Unlock()
	return bus.Subscribe(fn)
}

// OnAnyNotification registers fn for every notification, after the
// method-specific listeners have run.
func (c *Channel) OnAnyNotification(fn func(Notification)) func() {
	return c.anyBus.Subscribe(fn)
}

// Call sends method with params and waits for the matching response. A
// non-positive timeout uses the channel default.
func (c *Channel) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	payload, err := marshalParams(params)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, component, method, "encode params", err)
	}

	call, err := c.register(method, timeout)
	if err != nil {
		return nil, err
	}

	line, err := json.Marshal(request{JSONRPC: protocolVersion, ID: call.id, Method: method, Params: payload})
	if err != nil {
		c.abandon(call.id)
		return nil, services.Wrap(services.ErrValidation, component, method, "encode request", err)
	}
	if err := c.writeLine(line); err != nil {
		if c.abandon(call.id) {
			return nil, services.Wrap(services.ErrChannelClosed, component, method, "write request", err)
		}
		res := <-call.result
		return res.result, res.err
	}

	select {
	case res := <-call.result:
		return res.result, res.err
	case <-ctx.Done():
		if c.abandon(call.id) {
			return nil, ctx.Err()
		}
		res := <-call.result
		return res.result, res.err
	}
}

// CallResult performs Call and decodes the result into out.
func (c *Channel) CallResult(ctx context.Context, method string, params any, timeout time.Duration, out any) error {
	raw, err := c.Call(ctx, method, params, timeout)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return services.Wrap(services.ErrProtocol, component, method, "decode result", err)
	}
	return nil
}

// Notify sends a notification. No response is expected.
func (c *Channel) Notify(method string, params any) error {
	if err := c.closedError(method); err != nil {
		return err
	}
	payload, err := marshalParams(params)
	if err != nil {
		return services.Wrap(services.ErrValidation, component, method, "encode params", err)
	}
	line, err := json.Marshal(notification{JSONRPC: protocolVersion, Method: method, Params: payload})
	if err != nil {
		return services.Wrap(services.ErrValidation, component, method, "encode notification", err)
	}
	if err := c.writeLine(line); err != nil {
		return services.Wrap(services.ErrChannelClosed, component, method, "write notification", err)
	}
	return nil
}

// Close tears the channel down and rejects every pending call with
// services.ErrChannelClosed joined with cause. It is safe to call repeatedly;
// only the first cause is kept.
func (c *Channel) Close(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = cause
	pending := c.pending
	c.pending = make(map[int64]*pendingCall)
	c.mu.Unlock()

	close(c.done)

	for _, call := range pending {
		call.timer.Stop()
		call.result <- callResult{err: services.Wrap(services.ErrChannelClosed, component, call.method, "pending call rejected", cause)}
	}
	if len(pending) > 0 {
		c.logger.Debug("rejected pending calls on teardown",
			logging.Int("count", len(pending)),
			logging.Error(cause),
		)
	}
}

// Destroy is Close without a cause.
func (c *Channel) Destroy() {
	c.Close(nil)
}

func (c *Channel) register(method string, timeout time.Duration) (*pendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, services.Wrap(services.ErrChannelClosed, component, method, "channel is closed", c.closeErr)
	}
	c.nextID++
	call := &pendingCall{id: c.nextID, method: method, result: make(chan callResult, 1)}
	c.pending[call.id] = call
	id := call.id
	call.timer = time.AfterFunc(timeout, func() { c.expire(id, timeout) })
	return call, nil
}

// claim removes and returns the pending entry for id. The caller that gets a
// non-nil entry is the only one allowed to deliver to it.
func (c *Channel) claim(id int64) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return call
}

func (c *Channel) abandon(id int64) bool {
	call := c.claim(id)
	if call == nil {
		return false
	}
	call.timer.Stop()
	return true
}

func (c *Channel) expire(id int64, timeout time.Duration) {
	call := c.claim(id)
	if call == nil {
		return
	}
	c.logger.Warn("worker call timed out",
		logging.String("method", call.method),
		logging.Int64("id", id),
		logging.Duration("timeout", timeout),
		logging.String(logging.FieldEventType, "rpc_timeout"),
	)
	call.result <- callResult{err: services.Wrap(services.ErrTimeout, component, call.method, fmt.Sprintf("no response within %s", timeout), nil)}
}

func (c *Channel) closedError(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		return nil
	}
	return services.Wrap(services.ErrChannelClosed, component, method, "channel is closed", c.closeErr)
}

func (c *Channel) writeLine(line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.writer.Write(buf)
	return err
}

// readLoop keeps draining the reader after teardown so the worker never
// blocks on a full stdout pipe; lines read after Close are discarded.
func (c *Channel) readLoop() {
	defer close(c.readDone)
	reader := bufio.NewReader(c.reader)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && !c.isClosed() {
			c.handleLine(line)
		}
		if err != nil {
			if c.externalTeardown {
				if !errors.Is(err, io.EOF) {
					c.logger.Debug("worker output read failed", logging.Error(err))
				}
				return
			}
			cause := services.Wrap(services.ErrChannelClosed, component, "read", "worker output ended", nil)
			if !errors.Is(err, io.EOF) {
				cause = services.Wrap(services.ErrChannelClosed, component, "read", "worker output failed", err)
			}
			c.Close(cause)
			return
		}
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var msg inbound
	if err := json.Unmarshal(line, &msg); err != nil {
		c.logger.Warn("dropping unparseable worker line",
			logging.Error(services.Wrap(services.ErrProtocol, component, "read", "invalid json", err)),
			logging.String("line", truncate(line, 200)),
			logging.String(logging.FieldEventType, "rpc_protocol"),
		)
		return
	}

	switch {
	case msg.ID != nil:
		c.resolve(*msg.ID, msg)
	case msg.Method != "":
		c.dispatch(Notification{Method: msg.Method, Params: msg.Params})
	case msg.Error != nil:
		c.logger.Warn("worker reported an error without a request id",
			logging.Int("code", msg.Error.Code),
			logging.String("message", msg.Error.Message),
			logging.String(logging.FieldEventType, "rpc_protocol"),
		)
	default:
		c.logger.Debug("dropping worker line with neither id nor method", logging.String("line", truncate(line, 200)))
	}
}

func (c *Channel) resolve(id int64, msg inbound) {
	call := c.claim(id)
	if call == nil {
		c.logger.Debug("discarding response for unknown request", logging.Int64("id", id))
		return
	}
	call.timer.Stop()
	if msg.Error != nil {
		call.result <- callResult{err: fmt.Errorf("%s: %w", call.method, msg.Error)}
		return
	}
	result := msg.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	call.result <- callResult{result: result}
}

func (c *Channel) dispatch(n Notification) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("notification listener panicked",
				logging.String("method", n.Method),
				logging.Any("panic", r),
			)
		}
	}()
	c.listenersMu.Lock()
	bus := c.listeners[n.Method]
	c.listenersMu.Unlock()
	if bus != nil {
		bus.Publish(n.Params)
	}
	c.anyBus.Publish(n)
}

func truncate(line []byte, limit int) string {
	if len(line) <= limit {
		return string(line)
	}
	return string(line[:limit]) + "..."
}
