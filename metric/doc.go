// Package metric provides Prometheus instrumentation for the bridge: a
// registry pre-loaded with the core event, command, query, state, and NATS
// metrics, and an HTTP server exposing them for scraping.
package metric
