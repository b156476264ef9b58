// Package health provides the liveness and readiness endpoints.
//
// Both endpoints are registered outside the admission pipeline: they are
// never authenticated or rate limited.
//
//   - /health answers GET and HEAD with {"status":"ok"} while the process runs.
//   - /ready runs every registered dependency check concurrently and answers
//     503 when any of them fails.
//
// # Usage
//
//	h := health.NewHandler(
//	    health.WithLogger(logger),
//	    health.WithMetrics(metrics),
//	)
//	h.AddCheck(health.PingCheck("redis", health.DependencyTypeCache, health.PingFunc(redisStore.Ping)))
//	h.AddCheck(health.PingCheck("database", health.DependencyTypeDatabase, db))
//	h.RegisterRoutes(engine)
package health
