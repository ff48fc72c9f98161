package worker

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/fluxcache/fluxcache/internal/domain"
	"github.com/fluxcache/fluxcache/internal/fluxerr"
	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/replay"
	"github.com/fluxcache/fluxcache/internal/value"
)

// replayDispatcher implements reader.MissDispatcher by translating a
// reader's (node, index, key) miss into a replay.Path and handing it to the
// replay engine — the bridge reader.go's doc comment calls out as living
// outside internal/reader to avoid an import cycle back through
// internal/domain. Concurrent misses against the same (node, index, key)
// — e.g. two blocked readers racing the same hole — collapse onto a single
// in-flight RequestPartialReplay via sf, rather than each allocating its
// own replay tag and duplicating the upquery.
type replayDispatcher struct {
	engine *replay.Engine
	d      *domain.Domain
	sf     singleflight.Group
}

func newReplayDispatcher(engine *replay.Engine, d *domain.Domain) *replayDispatcher {
	return &replayDispatcher{engine: engine, d: d}
}

func (rd *replayDispatcher) RequestMiss(ctx context.Context, node graph.NodeIndex, index int, key []value.Value) error {
	if rd.engine == nil {
		return fluxerr.New(fluxerr.UpqueryTimeout, "worker.replayDispatcher.RequestMiss")
	}
	path := rd.buildPath(node, index)
	_, err, _ := rd.sf.Do(missKey(node, index, key), func() (any, error) {
		return nil, rd.engine.RequestMiss(rd.d, path, key)
	})
	return err
}

func (rd *replayDispatcher) RequestMissRange(ctx context.Context, node graph.NodeIndex, index int, lo, hi value.Value) error {
	if rd.engine == nil {
		return fluxerr.New(fluxerr.UpqueryTimeout, "worker.replayDispatcher.RequestMissRange")
	}
	path := rd.buildPath(node, index)
	_, err, _ := rd.sf.Do(missKey(node, index, []value.Value{lo, hi}), func() (any, error) {
		return nil, rd.engine.RequestMissRange(rd.d, path, lo, hi)
	})
	return err
}

func (rd *replayDispatcher) buildPath(node graph.NodeIndex, index int) replay.Path {
	return buildReplayPath(func(n graph.NodeIndex) (*graph.Node, bool) {
		nr, ok := rd.d.Node(n)
		if !ok {
			return nil, false
		}
		return nr.Node, true
	}, node, index)
}

// missKey identifies one (node, index, key) miss for singleflight
// collapsing; it need not be collision-proof across types, only stable
// for equal Value tuples within one process.
func missKey(node graph.NodeIndex, index int, key []value.Value) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(node)))
	b.WriteByte('/')
	b.WriteString(strconv.Itoa(index))
	for _, v := range key {
		b.WriteByte('/')
		b.WriteString(v.String())
	}
	return b.String()
}
