// Package httpclient provides HTTP client utilities for the stagefire probe.
//
// The httpclient package handles request construction and response handling:
//   - Configurable timeouts and connection pooling
//   - Static headers from configuration
//   - W3C trace-context injection when tracing is enabled
//   - Bounded response body reads that keep connections reusable
//
// # Request Building
//
// Use [NewRequestBuilder] to create a new request builder from configuration:
//
//	builder, err := httpclient.NewRequestBuilder(cfg)
//	if err != nil {
//		return err
//	}
//	req, err := builder.Build(ctx)
//
// Every request is a GET to the configured base URL joined with the path.
//
// # HTTP Client
//
// The [NewClient] function creates an HTTP client tuned for repeated probes with
// configurable timeouts and connection reuse:
//
//	client := httpclient.NewClient(30 * time.Second)
//	resp, err := client.Do(req)
//	body, err := httpclient.ReadBody(resp, needBody, httpclient.DefaultBodyLimit)
package httpclient
