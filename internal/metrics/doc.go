// Package metrics exposes Prometheus collectors for the relay client.
//
// All methods are safe on a nil *Metrics, so components can take an optional
// collector without guarding every call.
package metrics
