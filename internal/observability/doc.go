// Package observability provides structured logging and Prometheus metrics
// for the assistant.
//
// Loggers are zap based. Metrics live on a private registry that is served on
// /metrics and passed explicitly to the components that record into it.
package observability
