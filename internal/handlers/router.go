package handlers

import (
	"github.com/go-chi/chi/v5"
)

// Router bundles the handlers mounted by MountRoutes
type Router struct {
	Health      *HealthHandler
	Sync        *SyncHandler
	Collections *CollectionHandler
	Admin       *AdminHandler
	WebSocket   *WebSocketHandler
}

// MountRoutes registers every API route on r. Nil handlers are skipped.
func (rt Router) MountRoutes(r chi.Router) {
	if rt.Health != nil {
		r.Get("/health", rt.Health.HealthCheck)
		r.Get("/api/health", rt.Health.HealthCheck)
	}

	r.Route("/api", func(r chi.Router) {
		if rt.Sync != nil {
			r.Post("/sync", rt.Sync.Sync)
		}

		if rt.Collections != nil {
			h := rt.Collections
			r.Route("/collections", func(r chi.Router) {
				r.Get("/", h.List)
				r.Route("/{name}", func(r chi.Router) {
					r.Delete("/", h.Wipe)
					r.Get("/watermark", h.Watermark)
					r.Get("/records", h.ListRecords)
					r.Put("/records", h.PutRecords)
					r.Get("/records/{id}", h.GetRecord)
					r.Post("/delete", h.DeleteRecords)
					r.Post("/check-delete", h.CheckDelete)
				})
			})
		}

		if rt.Admin != nil {
			h := rt.Admin
			r.Route("/admin", func(r chi.Router) {
				r.Get("/cleanup", h.CleanupStatus)
				r.Post("/cleanup", h.RunCleanup)
				r.Post("/tombstones/recount", h.RecountTombstones)
				r.Post("/collections/{name}/upgrade", h.UpgradeCollection)
			})
		}
	})

	if rt.WebSocket != nil {
		r.Get("/ws", rt.WebSocket.HandleConnection)
	}
}
