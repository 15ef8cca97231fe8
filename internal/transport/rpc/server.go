// Package rpc exposes the pipeline operations over JSON-RPC for internal
// clients.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaot623/appforge/internal/domain"
	"github.com/xiaot623/appforge/internal/service"
)

// ServiceName is the name the handler is registered under.
const ServiceName = "Pipeline"

// Server exposes internal RPC endpoints.
type Server struct {
	mu        sync.Mutex
	listener  net.Listener
	rpcServer *rpc.Server
	logger    *zap.Logger
	done      chan struct{}
}

// NewServer creates a new RPC server bound to the orchestrator service.
func NewServer(svc *service.Service, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc}
	if err := rpcServer.RegisterName(ServiceName, handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		logger:    logger.Named("rpc"),
		done:      make(chan struct{}),
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts RPC connections on ln until Shutdown closes it.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.logger.Warn("rpc accept error", zap.Error(err))
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the pipeline RPC methods. Failures are returned as the
// error's text prefixed with its kind, e.g. "run_conflict: ...".
type Handler struct {
	service *service.Service
}

// Empty is the argument of methods that take none.
type Empty struct{}

// ToolCallArgs names a tool and its parameters.
type ToolCallArgs = domain.ToolCallRequest

// ApprovePlanArgs carries an optional replacement plan.
type ApprovePlanArgs struct {
	Plan *domain.Plan `json:"plan,omitempty"`
}

// Start begins a new run.
func (h *Handler) Start(req *domain.StartRequest, resp *domain.State) error {
	if req == nil {
		return errors.New("start request is required")
	}
	st, err := h.service.Start(req.UserRequest)
	if err != nil {
		return err
	}
	*resp = st
	return nil
}

// ApprovePlan approves the proposed plan, or the supplied one.
func (h *Handler) ApprovePlan(req *ApprovePlanArgs, resp *domain.State) error {
	var plan *domain.Plan
	if req != nil {
		plan = req.Plan
	}
	st, err := h.service.ApprovePlan(plan)
	if err != nil {
		return err
	}
	*resp = st
	return nil
}

// ToolCall applies a client tool call.
func (h *Handler) ToolCall(req *ToolCallArgs, resp *domain.State) error {
	if req == nil || req.ToolName == "" {
		return errors.New("tool_name is required")
	}
	st, err := h.service.ToolCall(*req)
	if err != nil {
		return err
	}
	*resp = st
	return nil
}

// GetState returns the current snapshot.
func (h *Handler) GetState(_ *Empty, resp *domain.State) error {
	*resp = h.service.GetState()
	return nil
}

// Reset discards the active run.
func (h *Handler) Reset(_ *Empty, resp *domain.State) error {
	*resp = h.service.Reset()
	return nil
}
