// Package api implements the local HTTP control API for streamlink.
//
// Endpoints (all under /api/v1):
//
//	GET    /health                                  connection state, spool depth, relay counters
//	GET    /metrics                                 runtime and connection metrics
//	GET    /subscriptions                           active subscriptions sorted by topic
//	POST   /subscriptions                           {"topic":"alice/phone","relay_mqtt":true}
//	DELETE /subscriptions/{topic...}                unsubscribe; 404 if never subscribed
//	POST   /streams/{user}/{device}/{stream}/insert insert the JSON body; 202
//
// An insert that cannot be sent while the realtime channel is down is
// spooled and answered with "spooled": true.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Security
//
// The API has no authentication and binds to 127.0.0.1 by default.
// Do not expose it beyond the local host.
package api
