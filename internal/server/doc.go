// Package server holds the small HTTP layer behind `ytsync serve` and `ytsync auth login`.
//
// [BasicRouter] is a method-aware wrapper over [http.ServeMux]. Middleware added with [BasicRouter.Use] runs in the
// order added; [Logging] and [Recover] are the two the CLI installs. Handlers that own several routes implement
// [Handler] and register themselves through Routes.
//
// [StatusHandler] exposes read-only JSON for collections, the day's quota and the breaker snapshot. The
// Prometheus handler from package metrics is mounted beside it.
//
// [OAuthHandler] serves the Google authorization-code callback for a single login: it checks the state value,
// exchanges the code and delivers the token (or the failure) on its result channel. Later callbacks are rejected.
//
// [Server] wraps [http.Server] with context-driven graceful shutdown.
package server
