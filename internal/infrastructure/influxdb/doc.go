// Package influxdb mirrors gateway activity into InfluxDB for long-term
// analysis.
//
// Client implements the gateway's MetricSink. Every reported call becomes a
// gateway_calls point and every lifecycle move a gateway_transitions point,
// tagged with the registration, service and environment. Writes are
// non-blocking and batched; failures surface through SetOnError.
//
// The registry's own metrics (metric.* metadata) remain the source of
// truth; InfluxDB is optional and enabled in the influxdb section:
//
//	influxdb:
//	  enabled: true
//	  url: "http://localhost:8086"
//	  org: "vineyard"
//	  bucket: "gateway"
package influxdb
