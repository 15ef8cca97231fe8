package rpc

import (
	"context"
	"net"
	"net/rpc/jsonrpc"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/appforge/internal/domain"
	"github.com/xiaot623/appforge/internal/driver"
	"github.com/xiaot623/appforge/internal/service"
	"github.com/xiaot623/appforge/tests/helpers"
)

func planOnly(ctx context.Context, inv domain.Invocation) (string, error) {
	return `{"plan":{"summary":"Todo app","steps":["api","ui"]}}`, nil
}

func startServer(t *testing.T) (*service.Service, string) {
	t.Helper()
	svc := service.New(service.Options{
		Store:   helpers.NewTestSQLiteStore(t),
		Backend: driver.BackendFunc(planOnly),
	})
	srv, err := NewServer(svc, nil)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = svc.Shutdown(ctx)
	})
	return svc, ln.Addr().String()
}

func TestPipelineOverRPC(t *testing.T) {
	svc, addr := startServer(t)

	client, err := jsonrpc.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	var st domain.State
	require.NoError(t, client.Call("Pipeline.Start", &domain.StartRequest{UserRequest: "build a todo app"}, &st))
	assert.Equal(t, domain.PhasePlanning, st.Phase)

	require.Eventually(t, func() bool {
		return svc.GetState().Phase == domain.PhaseAwaitingApproval
	}, 2*time.Second, 5*time.Millisecond)

	err = client.Call("Pipeline.ToolCall", &ToolCallArgs{ToolName: "deploy"}, &st)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), string(domain.KindInvalidTransition)), err.Error())

	var got domain.State
	require.NoError(t, client.Call("Pipeline.GetState", &Empty{}, &got))
	assert.Equal(t, domain.PhaseAwaitingApproval, got.Phase)
	assert.Equal(t, "Todo app", got.Plan.Summary)

	var reset domain.State
	require.NoError(t, client.Call("Pipeline.Reset", &Empty{}, &reset))
	assert.Equal(t, domain.PhaseIdle, reset.Phase)

	err = client.Call("Pipeline.ApprovePlan", &ApprovePlanArgs{}, &st)
	require.Error(t, err)
}
