package rpc

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/schema"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/rterr"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

// callResult resolves one pending call
type callResult struct {
	resp *Response
	err  error
}

// Client drives a remote worker over a Transport. It exposes the same
// host-facing runtime API as sandbox.Engine and re-validates every result.
// All methods are safe for concurrent use.
type Client struct {
	transport Transport
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	nextID atomic.Uint64

	sendSlot chan struct{} // one Send in flight at a time

	pendingMu sync.Mutex
	pending   map[uint64]chan callResult // in-flight calls by id
	failure   error                      // set once the transport is gone

	done chan struct{}
}

// NewClient starts the response reader over transport. A nil logger is
// replaced with a no-op logger.
func NewClient(transport Transport, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		transport: transport,
		logger:    logger,
		sendSlot:  make(chan struct{}, 1),
		pending:   make(map[uint64]chan callResult),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// WithMetrics adds metrics tracking to the client
func (c *Client) WithMetrics(metrics *monitoring.Metrics) *Client {
	c.metrics = metrics
	return c
}

// Done is closed once the transport has failed or been closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the transport and rejects every outstanding call
func (c *Client) Close() error {
	err := c.transport.Close()
	c.fail(ErrClosed)
	return err
}

func (c *Client) readLoop() {
	for {
		frame, err := c.transport.Receive(context.Background())
		if err != nil {
			c.fail(err)
			return
		}

		resp, err := DecodeResponse(frame)
		if err != nil {
			id, ok := ResponseID(frame)
			if !ok {
				c.logger.Warn("unreadable response frame, closing transport", zap.Error(err))
				_ = c.transport.Close()
				c.fail(err)
				return
			}
			c.logger.Warn("malformed response frame", zap.Uint64("id", id), zap.Error(err))
			c.reject(id, rterr.Wrap(rterr.CodeTransport, err, "malformed response %d", id))
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		count := len(c.pending)
		c.pendingMu.Unlock()

		if !ok {
			c.logger.Debug("response for unknown call", zap.Uint64("id", resp.ID))
			continue
		}
		c.recordPending(count)
		ch <- callResult{resp: resp}
	}
}

// reject resolves one pending call with err
func (c *Client) reject(id uint64, err error) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	count := len(c.pending)
	c.pendingMu.Unlock()

	if !ok {
		return
	}
	c.recordPending(count)
	ch <- callResult{err: err}
}

// send writes one frame. Calls queue for the slot so the transport never
// sees concurrent sends.
func (c *Client) send(ctx context.Context, frame []byte) error {
	select {
	case c.sendSlot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.sendSlot }()
	return c.transport.Send(ctx, frame)
}

// fail rejects every pending call and every later call
func (c *Client) fail(cause error) {
	c.pendingMu.Lock()
	if c.failure != nil {
		c.pendingMu.Unlock()
		return
	}
	c.failure = rterr.Wrap(rterr.CodeTransport, cause, "runtime transport closed")
	pending := c.pending
	c.pending = make(map[uint64]chan callResult)
	failure := c.failure
	c.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: failure}
	}
	close(c.done)
	c.recordPending(0)

	c.logger.Info("runtime transport closed",
		zap.Int("rejected_calls", len(pending)),
		zap.Error(cause))
}

// call sends req and waits for its response, decoding the result into out
func (c *Client) call(ctx context.Context, req *Request, out interface{}) error {
	req.ID = c.nextID.Add(1)
	ch := make(chan callResult, 1)

	c.pendingMu.Lock()
	if c.failure != nil {
		err := c.failure
		c.pendingMu.Unlock()
		c.recordCall(req.Type, err)
		return err
	}
	c.pending[req.ID] = ch
	count := len(c.pending)
	c.pendingMu.Unlock()
	c.recordPending(count)

	err := c.roundTrip(ctx, req, ch, out)
	c.recordCall(req.Type, err)
	return err
}

func (c *Client) roundTrip(ctx context.Context, req *Request, ch chan callResult, out interface{}) error {
	frame, err := EncodeRequest(req)
	if err != nil {
		c.forget(req.ID)
		return rterr.Wrap(rterr.CodeSchema, err, "%s request not serializable", req.Type)
	}
	if err := c.send(ctx, frame); err != nil {
		c.forget(req.ID)
		if ctx.Err() != nil {
			return rterr.Wrap(rterr.CodeUnknown, ctx.Err(), "%s cancelled", req.Type)
		}
		c.fail(err)
		return rterr.Wrap(rterr.CodeTransport, err, "send %s", req.Type)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if !res.resp.OK {
			return rterr.FromPayload(res.resp.Error)
		}
		if out == nil {
			return nil
		}
		return decodeResult(res.resp, out)
	case <-ctx.Done():
		c.forget(req.ID)
		return rterr.Wrap(rterr.CodeUnknown, ctx.Err(), "%s cancelled", req.Type)
	}
}

func (c *Client) forget(id uint64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	count := len(c.pending)
	c.pendingMu.Unlock()
	c.recordPending(count)
}

func (c *Client) recordPending(count int) {
	if c.metrics != nil {
		c.metrics.SetRPCPending(count)
	}
}

func (c *Client) recordCall(t MessageType, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = string(rterr.CodeOf(err))
	}
	c.metrics.RecordRPCCall(string(t), status)
}

// CreateSession loads a bundle into a new remote session
func (c *Client) CreateSession(ctx context.Context, stackID, sessionID, source string) (*types.SessionMeta, error) {
	var meta types.SessionMeta
	err := c.call(ctx, &Request{
		Type:          TypeLoadStackBundle,
		StackID:       stackID,
		SessionID:     sessionID,
		PackageSource: source,
	}, &meta)
	if err != nil {
		return nil, err
	}
	if meta.Cards == nil {
		meta.Cards = []string{}
	}
	return &meta, nil
}

// Render renders a card remotely and validates the returned tree
func (c *Client) Render(ctx context.Context, sessionID, cardID string, snapshot types.StateSnapshot) (types.UINode, error) {
	var raw interface{}
	err := c.call(ctx, &Request{
		Type:      TypeRenderCard,
		SessionID: sessionID,
		CardID:    cardID,
		State:     &snapshot,
	}, &raw)
	if err != nil {
		return nil, err
	}
	return schema.ValidateUINode(raw)
}

// Event invokes a card handler remotely and validates the returned intents
func (c *Client) Event(ctx context.Context, sessionID, cardID, handler string, args interface{}, snapshot types.StateSnapshot) ([]types.RuntimeIntent, error) {
	var raw interface{}
	err := c.call(ctx, &Request{
		Type:      TypeEventCard,
		SessionID: sessionID,
		CardID:    cardID,
		Handler:   handler,
		Args:      args,
		State:     &snapshot,
	}, &raw)
	if err != nil {
		return nil, err
	}
	return schema.ValidateIntents(raw)
}

// DefineCard installs a card in a remote session
func (c *Client) DefineCard(ctx context.Context, sessionID, cardID, code string) (*types.SessionMeta, error) {
	return c.define(ctx, &Request{Type: TypeDefineCard, SessionID: sessionID, CardID: cardID, Code: code})
}

// DefineCardRender replaces a remote card's render function
func (c *Client) DefineCardRender(ctx context.Context, sessionID, cardID, code string) (*types.SessionMeta, error) {
	return c.define(ctx, &Request{Type: TypeDefineCardRender, SessionID: sessionID, CardID: cardID, Code: code})
}

// DefineCardHandler adds or replaces a remote card handler
func (c *Client) DefineCardHandler(ctx context.Context, sessionID, cardID, handler, code string) (*types.SessionMeta, error) {
	return c.define(ctx, &Request{
		Type:      TypeDefineCardHandler,
		SessionID: sessionID,
		CardID:    cardID,
		Handler:   handler,
		Code:      code,
	})
}

func (c *Client) define(ctx context.Context, req *Request) (*types.SessionMeta, error) {
	var meta types.SessionMeta
	if err := c.call(ctx, req, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// DisposeSession releases a remote session. Transport failures are logged
// and reported as false.
func (c *Client) DisposeSession(ctx context.Context, sessionID string) bool {
	var res DisposeResult
	if err := c.call(ctx, &Request{Type: TypeDisposeSession, SessionID: sessionID}, &res); err != nil {
		c.logger.Warn("remote dispose failed", zap.String("session_id", sessionID), zap.Error(err))
		return false
	}
	return res.Disposed
}

// Health reports remote readiness. An unreachable worker reports not ready.
func (c *Client) Health(ctx context.Context) types.Health {
	var health types.Health
	if err := c.call(ctx, &Request{Type: TypeHealth}, &health); err != nil {
		c.logger.Debug("remote health failed", zap.Error(err))
		return types.Health{Ready: false, Sessions: []string{}}
	}
	if health.Sessions == nil {
		health.Sessions = []string{}
	}
	return health
}
