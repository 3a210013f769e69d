package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	_, span := startSpan(context.Background(), "docstore.Get", "shop", attribute.String("docstore.id", "x"))
	endSpan(span, nil)
	_, span = startSpan(context.Background(), "docstore.Pull", "shop")
	endSpan(span, errors.New("boom"))

	spans := rec.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "docstore.Get", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("docstore.area", "shop"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("docstore.id", "x"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "boom", spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1)
	assert.Equal(t, "exception", spans[1].Events()[0].Name)
}
