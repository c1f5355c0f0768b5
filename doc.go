// Package auth is the session and authorization core of the staff console:
// it establishes who is signed in from a stored bearer credential and
// decides which capabilities that identity may use.
//
// Session lifecycle:
//   - SessionManager owns the one session of the running application. The
//     first navigation starts a bootstrap that is shared by every concurrent
//     caller; it resolves to Ready with or without a user and never goes
//     back to Bootstrapping.
//   - Login resubmits credentials once after a stale security token (HTTP
//     419) and surfaces a single user facing message on failure. Logout
//     clears local state immediately and revokes the token remotely in the
//     background.
//
// Authorization:
//   - Policy evaluates a Requirement (roles and/or a permission path) with a
//     role match first and a permission path fallback second. Permissions can
//     be derived from a RoleCatalog when the identity carries none.
//   - The elevated account rule lives in a single BypassPolicy value shared by
//     SessionManager and Policy; pass NoBypass to drop it.
//   - RouteGate turns a session snapshot and a Requirement into render,
//     loading or redirect decisions and exposes them as go-router middleware.
//
// Activity sinks:
//   - ActivitySink receives bootstrap, login, logout and password reset
//     events. Sinks run best-effort (errors are logged). NewMetricsSink
//     counts them with Prometheus.
package auth
