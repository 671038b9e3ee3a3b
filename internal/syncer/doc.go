// Package syncer keeps the local replica in step with the remote catalog.
//
// A Manager runs full-replace syncs: one bulk fetch of the whole catalog,
// followed by an atomic swap of the replica and its sync marker. Syncs are
// skipped while the marker is younger than the freshness window unless they
// are forced, and at most one sync runs at a time.
//
//	m := syncer.New(store, client, syncer.DefaultConfig(),
//	    syncer.WithLogger(log),
//	    syncer.OnSynced(engine.Invalidate),
//	)
//	defer m.Close()
//
//	scheduled := m.Initialize(ctx) // stale replica: sync after InitialDelay
//
// Sync never returns an error to the caller. Failures are reported through
// Result, Status and the logs, and the previous replica stays in place.
package syncer
