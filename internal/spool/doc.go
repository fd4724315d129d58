// Package spool keeps inserts that could not be written to the websocket.
//
// Entries are stored in the insert_spool SQLite table and replayed oldest
// first whenever the connection comes back, and periodically while it is
// up. A replay stops at the first entry that cannot be sent, so ordering
// per topic is preserved.
//
//	sp := spool.New(db, cfg.Spool.BatchSize)
//	spooled, err := sp.Deliver(ctx, client, "alice/phone/battery", points)
//
//	client.SetOnConnect(func() { sp.Flush(ctx, client) })
//	go sp.Run(ctx, client, cfg.GetFlushInterval())
package spool
