package app

import "larder/internal/observability/debugsrv"

func (a *App) registerDebugRoutes() {
	a.dbg.Handle("/debug/larder/snapshot", debugsrv.JSON(func() any { return a.disp.Snapshot() }))
	a.dbg.Handle("/debug/larder/rules", debugsrv.JSON(func() any { return a.disp.Rules() }))
	a.dbg.Handle("/debug/larder/goroutines", debugsrv.JSON(func() any { return a.sup.Snapshot() }))
	if a.out != nil {
		a.dbg.Handle("/debug/larder/sinks", debugsrv.JSON(func() any { return a.out.svc.Stats() }))
	}
}
