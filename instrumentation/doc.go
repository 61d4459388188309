// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server.
//
// When disabled, no-op providers are used and recording costs nothing. When
// enabled with the Prometheus exporter, metrics are collected into a private
// registry served by MetricsHandler:
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "oauth-authserver",
//		ServiceVersion: version,
//		Enabled:        true,
//		MetricExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", inst.MetricsHandler())
//
// Never record credential values (codes, tokens, secrets) as attributes.
package instrumentation
