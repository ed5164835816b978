package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

// TestRecordHTTPError 按状态码区分客户端与服务端错误
func TestRecordHTTPError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	RecordHTTPError(span, errors.New("resume not found"), 404)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "http", attrs["error.type"].AsString())
	assert.Equal(t, "client_error", attrs["error.category"].AsString())
	assert.Equal(t, int64(404), attrs["http.status_code"].AsInt64())

	RecordError(nil, errors.New("ignored"), ErrorTypeDB)
}

// TestRecordRabbitMQNack 拒绝消息时标记 span 出错
func TestRecordRabbitMQNack(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := tp.Tracer("test").Start(context.Background(), "consume")
	RecordRabbitMQNack(span, "q.entity_changed_embedding", "")
	span.End()

	attrs := attrMap(recorder.Ended()[0].Attributes())
	assert.Equal(t, "nack", attrs["messaging.error_type"].AsString())
	assert.Equal(t, "message rejected by consumer", attrs["error.message"].AsString())
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abc", TruncateString("abcdef", 3))
	assert.Equal(t, "ab...gh", TruncateString("abcdefgh", 7))
	assert.Equal(t, "向量...生成", TruncateString("向量文本需要截断后生成", 7))

	long := strings.Repeat("x", MaxSQLLength*2)
	assert.Len(t, []rune(SafeSQL(long)), MaxSQLLength-1)
	assert.LessOrEqual(t, len(SafeRedisKey(long)), MaxRedisLength)
}
