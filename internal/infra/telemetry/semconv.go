// Package telemetry provides semantic conventions and the OpenTelemetry
// meter provider used by both services.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys shared across moneysaga metrics.
const (
	AttrEnvironment = attribute.Key("environment")
	AttrEventType   = attribute.Key("event.type")
	AttrTopic       = attribute.Key("topic")
	AttrOperation   = attribute.Key("operation")
	AttrResult      = attribute.Key("result")
	AttrErrorType   = attribute.Key("error.type")
	AttrReason      = attribute.Key("reason")
	AttrStatus      = attribute.Key("status")
)

// OperationResultAttributes returns the common attribute set for an
// operation metric with a result classification (success, duplicate,
// insufficient_balance, wallet_not_found, timeout, ...).
func OperationResultAttributes(environment, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}

// ErrorAttributes returns the common attribute set for an error metric.
func ErrorAttributes(environment, errorType, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrErrorType.String(errorType),
		AttrReason.String(reason),
	}
}
