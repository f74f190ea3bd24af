// Package metrics exposes Prometheus counters, gauges and histograms for
// the backup and restore orchestrators, plus a Timer helper for observing
// operation durations. Handler() serves them for scraping.
package metrics
