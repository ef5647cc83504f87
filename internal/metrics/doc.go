// Package metrics provides real-time metrics collection and aggregation for probe runs.
//
// # Collector
//
// The central [Collector] type aggregates samples from all virtual users:
//
//	collector := metrics.NewCollector(metrics.WithPercentiles(99.9))
//	collector.Start() // Mark run start for accurate RPS calculation
//
//	collector.RecordRequest(latency, err, &metrics.RequestMetadata{Status: 200})
//	collector.RecordCheck("status is 200", true)
//	collector.RecordIteration(iterationDuration)
//
//	stats := collector.Stats(elapsed)
//
// Latency quantiles come from an HdrHistogram with microsecond resolution.
// [DefaultPercentiles] are always computed; thresholds may request more.
//
// # Time-Series Data
//
// Use [Collector.Snapshot] once per interval and [Collector.History] to
// retrieve the data points for charts.
//
// # Sinks
//
// Exporters implement [Sink] and are attached with [WithSinks]. Every
// request, check outcome and VU change is forwarded after the collector
// releases its lock.
package metrics
