// Package observability provides logging and metrics support for the
// bibliometric pipeline.
//
// # Logging
//
// Create a logger from configuration and pass it to components explicitly:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger = observability.WithRunContext(logger, runID, userID)
//
// # Metrics
//
//	metrics := observability.NewMetrics("bibliometric")
//	metrics.RecordRunFinished(true, time.Since(start))
//	metrics.RecordPhase("Search", true, elapsed)
//
// # Standard Fields
//
//   - run_id: pipeline run identifier
//   - user_id: authenticated user
//   - phase: pipeline phase description
//   - domain: domain number (1-3)
//   - source: paper source (openalex, scopus)
//   - request_id: HTTP request identifier
package observability
