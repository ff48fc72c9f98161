// Package controller_test hosts the scenario tests named in §8 of the
// original specification. It lives as an external test package (rather
// than inside package controller) because a useful end-to-end scenario
// needs a full worker.Worker and wireadapter.Adapter, both of which import
// controller themselves — the same in-process integration-test shape
// grounded in integration.rs and query_generator/benchmark.rs that
// SPEC_FULL.md's Supplemented Features section calls for under the name
// testharness.go.
package controller_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxcache/fluxcache/internal/config"
	"github.com/fluxcache/fluxcache/internal/value"
	"github.com/fluxcache/fluxcache/internal/wireadapter"
	"github.com/fluxcache/fluxcache/internal/worker"
)

// harness builds a memory-only worker wrapped in a wireadapter.Adapter,
// installs src as its initial recipe, and registers cleanup; every
// scenario test starts from this.
type harness struct {
	t *testing.T
	w *worker.Worker
	a *wireadapter.Adapter
}

func newHarness(t *testing.T, src string) *harness {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	w, err := worker.NewBuilder(cfg).Build(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close(context.Background()) })

	_, err = w.InstallRecipe(src)
	require.NoError(t, err)

	return &harness{t: t, w: w, a: wireadapter.New(w)}
}

func (h *harness) insert(table string, row ...value.Value) {
	h.t.Helper()
	require.NoError(h.t, h.w.Insert(context.Background(), table, row))
}

// lookup polls the view's blocking Lookup on a fresh context each attempt:
// a blocking read against a not-yet-filled partial key can return before a
// concurrently in-flight insert's forward pass has reached that view, so
// tests that assert on eventual content retry rather than trusting a
// single call.
func (h *harness) lookup(view string, key ...value.Value) []value.Record {
	h.t.Helper()
	v, err := h.a.View(view)
	require.NoError(h.t, err)

	var out []value.Record
	require.Eventually(h.t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		rows, err := v.Lookup(ctx, key, true)
		if err != nil {
			return false
		}
		out = rows
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return out
}
