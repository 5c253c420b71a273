// Package portal provides the session and authorization layer of the customer
// dashboard plus the route guards and controllers that sit on top of it.
//
// Session provider:
//   - Provider owns the session state of one device. A single goroutine applies
//     every mutation in order, so readers only ever observe published Snapshot
//     values. Loading is true until the first session resolution and never
//     returns to true afterwards.
//   - Administrator privilege is resolved asynchronously after every session
//     change. Results carry the generation of the session they were started
//     for and stale results are discarded. Any failure degrades to "not an
//     administrator".
//
// Hub:
//   - Hub maps device cookies to providers, reaps idle ones and asks
//     authenticated providers to refresh sessions close to expiry.
//
// Route guards:
//   - Decide is the pure decision function behind RouteGuard.Protect. Standard
//     routes wait for Loading to clear, administrative routes also wait for the
//     privilege check to settle. Anonymous users are sent to the login page and
//     authenticated non-administrators to the dashboard.
//
// Activity sinks:
//   - ActivitySink receives audit events for sign-in, sign-out, session changes
//     and admin resolution. Sinks run best-effort and their errors are logged.
package portal
