package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pwbridge/internal/codec"
	"github.com/GriffinCanCode/pwbridge/internal/infrastructure/monitoring"
)

var (
	ErrClosed        = errors.New("rpc: connection closed")
	ErrUnknownMethod = errors.New("rpc: unknown method")
)

const (
	kindCall     = "q"
	kindResponse = "s"
)

// Transport moves opaque frames in order. WriteFrame must be safe for
// concurrent use; Close must unblock a pending ReadFrame.
type Transport interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, data []byte) error
	Close() error
}

// Handler serves one inbound method.
type Handler func(ctx context.Context, args []any) (any, error)

// Options configure value packing for each direction.
type Options struct {
	// Encode applies to every outgoing frame.
	Encode codec.EncodeOptions
	// Decode applies to every incoming frame.
	Decode codec.DecodeOptions

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

type response struct {
	result any
	err    error
}

// Conn is one end of an RPC connection.
type Conn struct {
	transport Transport
	opts      Options
	logger    *zap.Logger

	methodsMu sync.RWMutex
	methods   map[string]Handler

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan response
	closed  bool

	ctx      context.Context
	cancel   context.CancelFunc
	handlers sync.WaitGroup
	done     chan struct{}
	once     sync.Once
}

// New creates a connection serving methods. Serve must be called to start
// reading frames.
func New(t Transport, methods map[string]Handler, opts Options) *Conn {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	table := make(map[string]Handler, len(methods))
	for name, h := range methods {
		table[name] = h
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		transport: t,
		methods:   table,
		opts:      opts,
		logger:    logger.Named("rpc"),
		pending:   make(map[uint64]chan response),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Handle adds or replaces one served method. Methods are normally added
// before Serve starts.
func (c *Conn) Handle(method string, h Handler) {
	c.methodsMu.Lock()
	defer c.methodsMu.Unlock()
	c.methods[method] = h
}

// Serve reads frames until the transport fails or the connection is closed.
// It returns after every inbound handler has finished.
func (c *Conn) Serve(ctx context.Context) error {
	defer c.handlers.Wait()

	for {
		frame, err := c.transport.ReadFrame(ctx)
		if err != nil {
			closing := c.isClosing(err) || errors.Is(err, io.EOF)
			c.Close()
			if closing {
				return nil
			}
			return fmt.Errorf("rpc: read frame: %w", err)
		}
		c.dispatch(frame)
	}
}

func (c *Conn) isClosing(err error) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	return errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled)
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close closes the transport and releases pending calls with ErrClosed.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		pending := c.pending
		c.pending = make(map[uint64]chan response)
		c.mu.Unlock()

		close(c.done)
		c.cancel()
		err = c.transport.Close()

		for _, ch := range pending {
			ch <- response{err: ErrClosed}
		}
	})
	return err
}

// Call invokes method on the peer and waits for its result.
func (c *Conn) Call(ctx context.Context, method string, args ...any) (any, error) {
	timer := monitoring.NewTimer(c.opts.Metrics, "out", method)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		timer.Stop("closed")
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if args == nil {
		args = []any{}
	}
	frame, err := codec.Encode(map[string]any{
		"t": kindCall,
		"i": id,
		"m": method,
		"a": args,
	}, c.opts.Encode)
	if err == nil {
		err = c.transport.WriteFrame(ctx, frame)
	}
	if err != nil {
		c.forget(id)
		timer.Stop("error")
		return nil, fmt.Errorf("rpc: call %s: %w", method, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			timer.Stop("error")
			return nil, res.err
		}
		timer.Stop("ok")
		return res.result, nil
	case <-ctx.Done():
		c.forget(id)
		timer.Stop("canceled")
		return nil, ctx.Err()
	}
}

func (c *Conn) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// header is the part of an envelope readable without resolving values.
type header struct {
	Kind string `cbor:"t"`
	ID   uint64 `cbor:"i"`
}

var headerMode cbor.DecMode

func init() {
	dm, err := cbor.DecOptions{
		MaxNestedLevels:  256,
		MaxArrayElements: 1 << 24,
		MaxMapPairs:      1 << 24,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("rpc: failed to create CBOR dec mode: %v", err))
	}
	headerMode = dm
}

func (c *Conn) dispatch(frame []byte) {
	decoded, err := codec.Decode(frame, c.opts.Decode)
	if err != nil {
		c.rejectFrame(frame, err)
		return
	}

	env, ok := decoded.(map[string]any)
	if !ok {
		c.logger.Warn("Dropping frame with unexpected envelope", zap.String("type", fmt.Sprintf("%T", decoded)))
		return
	}
	kind, _ := env["t"].(string)
	id, ok := envelopeID(env["i"])
	if !ok {
		c.logger.Warn("Dropping frame without id", zap.String("kind", kind))
		return
	}

	switch kind {
	case kindCall:
		method, _ := env["m"].(string)
		args, _ := env["a"].([]any)
		c.handlers.Add(1)
		go c.serveCall(id, method, args)
	case kindResponse:
		if e, failed := env["e"]; failed {
			c.resolve(id, response{err: remoteError(e)})
			return
		}
		result := env["r"]
		if codec.IsUndefined(result) {
			result = nil
		}
		c.resolve(id, response{result: result})
	default:
		c.logger.Warn("Dropping frame of unknown kind", zap.String("kind", kind))
	}
}

// rejectFrame reports a frame whose values could not be decoded to whoever
// is waiting on it.
func (c *Conn) rejectFrame(frame []byte, decodeErr error) {
	var h header
	if err := headerMode.Unmarshal(frame, &h); err != nil || h.ID == 0 {
		c.logger.Warn("Dropping undecodable frame", zap.Error(decodeErr))
		return
	}

	switch h.Kind {
	case kindCall:
		c.handlers.Add(1)
		go func() {
			defer c.handlers.Done()
			c.respond(h.ID, nil, decodeErr)
		}()
	case kindResponse:
		c.resolve(h.ID, response{err: decodeErr})
	}
}

func (c *Conn) resolve(id uint64, res response) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("Response for unknown call", zap.Uint64("id", id))
		return
	}
	ch <- res
}

func (c *Conn) serveCall(id uint64, method string, args []any) {
	defer c.handlers.Done()
	timer := monitoring.NewTimer(c.opts.Metrics, "in", method)

	result, err := c.invoke(method, args)
	if err != nil {
		timer.Stop("error")
	} else {
		timer.Stop("ok")
	}
	c.respond(id, result, err)
}

func (c *Conn) invoke(method string, args []any) (result any, err error) {
	c.methodsMu.RLock()
	handler, ok := c.methods[method]
	c.methodsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panicked", zap.String("method", method), zap.Any("panic", r))
			err = codec.NewError(codec.KindError, fmt.Sprintf("panic in %s: %v", method, r))
		}
	}()
	return handler(c.ctx, args)
}

func (c *Conn) respond(id uint64, result any, err error) {
	env := map[string]any{"t": kindResponse, "i": id}
	if err != nil {
		env["e"] = err
	} else {
		env["r"] = result
	}

	frame, encErr := codec.Encode(env, c.opts.Encode)
	if encErr != nil {
		c.logger.Warn("Failed to encode response", zap.Uint64("id", id), zap.Error(encErr))
		frame, encErr = codec.Encode(map[string]any{"t": kindResponse, "i": id, "e": encErr}, c.opts.Encode)
		if encErr != nil {
			return
		}
	}

	if err := c.transport.WriteFrame(c.ctx, frame); err != nil && !c.isClosing(err) {
		c.logger.Warn("Failed to write response", zap.Uint64("id", id), zap.Error(err))
	}
}

func envelopeID(v any) (uint64, bool) {
	switch id := v.(type) {
	case int64:
		if id > 0 {
			return uint64(id), true
		}
	case uint64:
		return id, true
	}
	return 0, false
}

// remoteError turns a decoded error payload into a Go error.
func remoteError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return codec.NewError(codec.KindError, fmt.Sprint(v))
}
