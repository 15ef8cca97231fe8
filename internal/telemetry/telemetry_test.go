package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDisabledTracerIsNoop(t *testing.T) {
	tel, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.False(t, tel.Enabled())

	_, span := tel.Tracer("test").Start(context.Background(), "op")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestSpanProcessorRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tel, err := New(context.Background(), Config{}, WithSpanProcessor(recorder))
	require.NoError(t, err)
	require.True(t, tel.Enabled())

	_, span := tel.Tracer("test").Start(context.Background(), "agent.turn")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "agent.turn", ended[0].Name())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestExporterReceivesSpansOnShutdown(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tel, err := New(context.Background(), Config{}, WithExporter(exp))
	require.NoError(t, err)

	_, span := tel.Tracer("test").Start(context.Background(), "op")
	span.End()
	require.NoError(t, tel.Shutdown(context.Background()))

	assert.Len(t, exp.GetSpans(), 1)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled", Config{}, false},
		{"enabled grpc", Config{Enabled: true, Endpoint: "localhost:4317", SampleRate: 1}, false},
		{"enabled http", Config{Enabled: true, Endpoint: "https://otel.example.com", Protocol: "http/protobuf"}, false},
		{"missing endpoint", Config{Enabled: true}, true},
		{"bad protocol", Config{Enabled: true, Endpoint: "x:1", Protocol: "udp"}, true},
		{"bad rate", Config{Enabled: true, Endpoint: "x:1", SampleRate: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel:4318", stripScheme("https://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("http://otel:4318"))
	assert.Equal(t, "otel:4317", stripScheme("otel:4317"))
}
