package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

// Payer addresses and message bodies must never reach a span.
var forbiddenAttributeKeys = map[attribute.Key]struct{}{
	"payer":        {},
	"payer_email":  {},
	"body":         {},
	"raw_excerpt":  {},
	"password":     {},
	"mail.address": {},
}

// SafeAttributes drops attributes that would leak personal data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, forbidden := forbiddenAttributeKeys[attr.Key]; forbidden {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError reduces err to its message with addresses redacted.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(redactAddresses(err.Error()))
}

// ExtractContext pulls remote span context from inbound carriers.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

func redactAddresses(msg string) string {
	fields := strings.Fields(msg)
	for i, f := range fields {
		if strings.Contains(f, "@") {
			fields[i] = "[redacted]"
		}
	}
	return strings.Join(fields, " ")
}
