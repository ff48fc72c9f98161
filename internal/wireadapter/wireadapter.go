// Package wireadapter implements the external interface contract (C8, §6):
// a table(name)/view(name) handle pair plus the admin operations
// (install_recipe, extend_recipe, graphviz, status), all resolved against a
// *worker.Worker. This is the seam a MySQL/PostgreSQL wire protocol front
// end would sit behind — fluxcache does not implement that wire protocol
// itself (a Non-goal), but the handle contract and its Unsupported/
// ViewNotFound error surface are in scope, matching the supplemented-
// features note on readyset-mysql/tests/fallback.rs and
// noria-client/backend/noria_connector.rs.
package wireadapter

import (
	"github.com/fluxcache/fluxcache/internal/controller"
	"github.com/fluxcache/fluxcache/internal/fluxerr"
	"github.com/fluxcache/fluxcache/internal/worker"
)

// Adapter resolves table(name)/view(name) handles against a running Worker
// and exposes the admin operations (§6). It holds no state of its own
// beyond the Worker it wraps.
type Adapter struct {
	w *worker.Worker
}

// New wraps w in an Adapter.
func New(w *worker.Worker) *Adapter {
	return &Adapter{w: w}
}

// Table resolves a base table handle (§6 table(name)).
func (a *Adapter) Table(name string) (*TableHandle, error) {
	idx, err := a.w.Table(name)
	if err != nil {
		return nil, err
	}
	return &TableHandle{w: a.w, name: name, idx: idx}, nil
}

// View resolves a query's reader handle (§6 view(name)).
func (a *Adapter) View(name string) (*ViewHandle, error) {
	rd, err := a.w.View(name)
	if err != nil {
		return nil, err
	}
	node, ok := a.w.Controller.ViewNode(name)
	if !ok {
		return nil, fluxerr.New(fluxerr.ViewNotFound, "wireadapter.View")
	}
	d, ok := a.w.Controller.Domain(node)
	if !ok {
		return nil, fluxerr.New(fluxerr.NotReady, "wireadapter.View")
	}
	nr, ok := d.Node(node)
	if !ok {
		return nil, fluxerr.New(fluxerr.NotReady, "wireadapter.View")
	}
	return &ViewHandle{reader: rd, node: nr.Node}, nil
}

// ActivationResult is the install_recipe/extend_recipe response (§6:
// "activation result (added / removed / reused counts)"), with the
// migration id rendered as a string so this package's callers (an eventual
// MySQL/PostgreSQL wire front end) never need to import google/uuid.
type ActivationResult struct {
	MigrationID string
	Added       int
	Removed     int
	Reused      int
}

// InstallRecipe replaces the active recipe with src (§6 install_recipe).
func (a *Adapter) InstallRecipe(src string) (ActivationResult, error) {
	if _, err := a.w.InstallRecipe(src); err != nil {
		return ActivationResult{}, err
	}
	return activationResult(a.w.Controller.LastActivation()), nil
}

// ExtendRecipe adds src onto the active recipe (§6 extend_recipe).
func (a *Adapter) ExtendRecipe(src string) (ActivationResult, error) {
	if _, err := a.w.ExtendRecipe(src); err != nil {
		return ActivationResult{}, err
	}
	return activationResult(a.w.Controller.LastActivation()), nil
}

func activationResult(r controller.ActivationResult) ActivationResult {
	return ActivationResult{
		MigrationID: r.MigrationID.String(),
		Added:       r.Added,
		Removed:     r.Removed,
		Reused:      r.Reused,
	}
}

// Graphviz renders the live dataflow graph (§6 graphviz()).
func (a *Adapter) Graphviz() string { return a.w.Graphviz() }

// Status reports the admin status vector (§6 status()).
func (a *Adapter) Status() map[string]any { return a.w.Status() }
