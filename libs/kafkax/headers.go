package kafkax

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Headers builds message headers from key/value pairs, then adds the W3C trace context
// active in ctx. A trailing key without a value is ignored.
func Headers(ctx context.Context, kv ...string) []kafka.Header {
	h := make(headerCarrier, 0, len(kv)/2+2)
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	otel.GetTextMapPropagator().Inject(ctx, &h)
	return h
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

type headerCarrier []kafka.Header

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func (h *headerCarrier) Get(key string) string {
	return HeaderValue(*h, key)
}

func (h *headerCarrier) Keys() []string {
	keys := make([]string, len(*h))
	for i, hdr := range *h {
		keys[i] = hdr.Key
	}
	return keys
}

// Set overwrites an existing header in place.
func (h *headerCarrier) Set(key, value string) {
	for i := range *h {
		if (*h)[i].Key == key {
			(*h)[i].Value = []byte(value)
			return
		}
	}
	*h = append(*h, kafka.Header{Key: key, Value: []byte(value)})
}
