// Package metrics records dispatch, restore, storage-mode and erase activity.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics can be switched on without touching call sites:
//
//	recorder := metrics.NewPrometheusRecorder(registry)
//	dispatcher := prefs.NewDispatcher(registry, store, prefs.WithMetrics(recorder))
//
// HTTPHandler exposes the registry for scraping.
package metrics
