// Package handlers contains the health checker and reusable middleware of the
// classroom monitor's HTTP interface.
//
// # Health Checks
//
// Named checks run in parallel, each under its own timeout. Required checks
// decide readiness; optional ones only mark the service degraded:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("database", handlers.NewPingCheck(db))
//	checker.AddCheck("event_feed", handlers.NewFeedCheck(feed))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
//
//	status := checker.Check(ctx)
//	if !status.Ready {
//	    logger.Warn("not ready", "reason", status.Message)
//	}
//
// # Middleware
//
// Middleware composes with Chain, outermost first:
//
//	guarded := handlers.Chain(
//	    handlers.NoCacheMiddleware,
//	    handlers.NewAPIKeyAuth("X-API-Key", keys).Middleware,
//	)
//	mux.Handle("POST /api/v1/students/{id}/help/acknowledge", guarded(h))
package handlers
