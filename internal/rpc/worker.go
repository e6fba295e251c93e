package rpc

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/rterr"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

// Backend is the runtime a worker serves, usually a *sandbox.Engine
type Backend interface {
	CreateSession(ctx context.Context, stackID, sessionID, source string) (*types.SessionMeta, error)
	Render(ctx context.Context, sessionID, cardID string, snapshot types.StateSnapshot) (types.UINode, error)
	Event(ctx context.Context, sessionID, cardID, handler string, args interface{}, snapshot types.StateSnapshot) ([]types.RuntimeIntent, error)
	DefineCard(ctx context.Context, sessionID, cardID, code string) (*types.SessionMeta, error)
	DefineCardRender(ctx context.Context, sessionID, cardID, code string) (*types.SessionMeta, error)
	DefineCardHandler(ctx context.Context, sessionID, cardID, handler, code string) (*types.SessionMeta, error)
	DisposeSession(ctx context.Context, sessionID string) bool
	Health(ctx context.Context) types.Health
}

// Worker serves one transport, handling frames strictly in arrival order.
// Sessions created through a worker are disposed when it stops.
type Worker struct {
	backend   Backend
	transport Transport
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	owned map[string]struct{}
}

// NewWorker creates a worker. A nil logger is replaced with a no-op logger.
func NewWorker(backend Backend, transport Transport, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		backend:   backend,
		transport: transport,
		logger:    logger,
		owned:     make(map[string]struct{}),
	}
}

// WithMetrics adds metrics tracking to the worker
func (w *Worker) WithMetrics(metrics *monitoring.Metrics) *Worker {
	w.metrics = metrics
	return w
}

// Serve processes frames until the transport closes or ctx is cancelled.
// A closed transport is a normal shutdown and returns nil.
func (w *Worker) Serve(ctx context.Context) error {
	defer w.disposeOwned()

	for {
		frame, err := w.transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		w.recordMessage("in", "frame")

		resp := w.handleFrame(ctx, frame)
		out, err := EncodeResponse(resp)
		if err != nil {
			w.logger.Error("failed to encode response", zap.Uint64("id", resp.ID), zap.Error(err))
			out, err = EncodeResponse(Failure(resp.ID, rterr.Wrap(rterr.CodeSchema, err, "result not serializable")))
			if err != nil {
				return err
			}
		}
		if err := w.transport.Send(ctx, out); err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		w.recordMessage("out", "response")
	}
}

func (w *Worker) handleFrame(ctx context.Context, frame []byte) *Response {
	req, err := DecodeRequest(frame)
	if err != nil {
		w.logger.Warn("malformed request frame", zap.Error(err))
		return Failure(0, rterr.Wrap(rterr.CodeUnknown, err, "malformed request frame"))
	}

	result, err := w.dispatch(ctx, req)
	if err != nil {
		w.logger.Debug("request failed",
			zap.Uint64("id", req.ID),
			zap.String("type", string(req.Type)),
			zap.String("session_id", req.SessionID),
			zap.Error(err))
		return Failure(req.ID, err)
	}

	resp, err := Success(req.ID, result)
	if err != nil {
		return Failure(req.ID, rterr.Wrap(rterr.CodeSchema, err, "result not serializable"))
	}
	return resp
}

func (w *Worker) dispatch(ctx context.Context, req *Request) (interface{}, error) {
	snapshot := func() types.StateSnapshot {
		if req.State == nil {
			return types.StateSnapshot{}
		}
		return *req.State
	}

	switch req.Type {
	case TypeLoadStackBundle:
		meta, err := w.backend.CreateSession(ctx, req.StackID, req.SessionID, req.PackageSource)
		if err != nil {
			return nil, err
		}
		w.owned[req.SessionID] = struct{}{}
		return meta, nil
	case TypeRenderCard:
		return w.backend.Render(ctx, req.SessionID, req.CardID, snapshot())
	case TypeEventCard:
		return w.backend.Event(ctx, req.SessionID, req.CardID, req.Handler, req.Args, snapshot())
	case TypeDefineCard:
		return w.backend.DefineCard(ctx, req.SessionID, req.CardID, req.Code)
	case TypeDefineCardRender:
		return w.backend.DefineCardRender(ctx, req.SessionID, req.CardID, req.Code)
	case TypeDefineCardHandler:
		return w.backend.DefineCardHandler(ctx, req.SessionID, req.CardID, req.Handler, req.Code)
	case TypeDisposeSession:
		disposed := w.backend.DisposeSession(ctx, req.SessionID)
		delete(w.owned, req.SessionID)
		return DisposeResult{Disposed: disposed}, nil
	case TypeHealth:
		return w.backend.Health(ctx), nil
	default:
		return nil, rterr.New(rterr.CodeUnknown, "unknown request type %q", req.Type)
	}
}

func (w *Worker) disposeOwned() {
	if len(w.owned) == 0 {
		return
	}
	ids := make([]string, 0, len(w.owned))
	for sid := range w.owned {
		ids = append(ids, sid)
	}
	sort.Strings(ids)

	for _, sid := range ids {
		w.backend.DisposeSession(context.Background(), sid)
	}
	w.owned = make(map[string]struct{})
	w.logger.Info("worker disposed owned sessions", zap.Strings("session_ids", ids))
}

func (w *Worker) recordMessage(direction, msgType string) {
	if w.metrics != nil {
		w.metrics.RecordWSMessage(direction, msgType)
	}
}
