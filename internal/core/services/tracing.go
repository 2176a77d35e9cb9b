package services

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("pok7/services")
