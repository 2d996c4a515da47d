package server

import (
	"context"

	"github.com/RoaringBitmap/roaring/roaring64"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cfilipov/wsio"
	"github.com/cfilipov/wsio/internal/idset"
	"github.com/cfilipov/wsio/packet"
)

// BroadcastOperator expresses "send to the union of these rooms minus those
// rooms minus those connection ids" (spec §4.8). Obtained from
// Namespace.To; Except/ExceptConnectionIDs refine it before Emit/Disconnect/
// Close resolve targets and fan out.
type BroadcastOperator struct {
	namespace      *Namespace
	includeRooms   []string
	excludeRooms   []string
	excludeConnIDs []uint64
}

// Except excludes the union of the named rooms from the resolved targets.
func (b *BroadcastOperator) Except(rooms ...string) *BroadcastOperator {
	b.excludeRooms = append(b.excludeRooms, rooms...)
	return b
}

// ExceptConnectionIDs excludes specific connection ids from the resolved
// targets.
func (b *BroadcastOperator) ExceptConnectionIDs(ids ...uint64) *BroadcastOperator {
	b.excludeConnIDs = append(b.excludeConnIDs, ids...)
	return b
}

// resolveTargetIDs implements spec §4.8's target resolution: start from all
// connections (or the union of include_rooms), subtract excluded rooms,
// subtract excluded connection ids. The result is a copy-on-write snapshot
// (DESIGN.md's broadcast snapshot semantics decision) isolated from
// concurrent joins/leaves during fan-out.
func (b *BroadcastOperator) resolveTargetIDs() []uint64 {
	ns := b.namespace

	var base *roaring64.Bitmap
	if len(b.includeRooms) == 0 {
		base = ns.connIDs.Snapshot()
	} else {
		base = idset.Union(ns.roomSets(b.includeRooms)...)
	}

	if len(b.excludeRooms) > 0 {
		base.AndNot(idset.Union(ns.roomSets(b.excludeRooms)...))
	}

	for _, id := range b.excludeConnIDs {
		base.Remove(id)
	}

	return base.ToArray()
}

// Emit encodes data once under event and fans it out to every resolved
// target, bounded by BroadcastConcurrencyLimit concurrent sends (spec §4.8).
func (b *BroadcastOperator) Emit(ctx context.Context, event string, data any) error {
	ns := b.namespace
	if ns.Status() != NamespaceRunning {
		return wsio.New(wsio.KindStatus, "broadcast_emit", errNamespaceNotRunning{})
	}

	encoded, err := ns.cfg.Codec.EncodeData(data)
	if err != nil {
		return wsio.New(wsio.KindCodec, "broadcast_emit", err)
	}
	out, err := ns.cfg.Codec.Encode(packet.Event(event, encoded))
	if err != nil {
		return wsio.New(wsio.KindCodec, "broadcast_emit", err)
	}

	b.fanOut(ctx, func(c *Connection) {
		c.enqueue(ctx, wireFrame{data: out})
	})
	return nil
}

// Disconnect fans out a Disconnect packet to every resolved target.
func (b *BroadcastOperator) Disconnect(ctx context.Context) error {
	ns := b.namespace
	out, err := ns.cfg.Codec.Encode(packet.Disconnect())
	if err != nil {
		return wsio.New(wsio.KindCodec, "broadcast_disconnect", err)
	}
	b.fanOut(ctx, func(c *Connection) {
		c.enqueue(ctx, wireFrame{data: out})
	})
	return nil
}

// Close calls Close on every resolved target connection directly, with no
// packet sent.
func (b *BroadcastOperator) Close(ctx context.Context) {
	b.fanOut(ctx, func(c *Connection) {
		c.Close()
	})
}

// fanOut iterates the resolved targets as a bounded-concurrency stream:
// golang.org/x/sync/semaphore caps in-flight sends, golang.org/x/sync/
// errgroup launches and swallows each recipient's error so one slow/dead
// connection never blocks its siblings (spec §4.8/§5).
func (b *BroadcastOperator) fanOut(ctx context.Context, send func(*Connection)) {
	ids := b.resolveTargetIDs()

	limit := int64(b.namespace.cfg.BroadcastConcurrencyLimit)
	if limit <= 0 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)

	var g errgroup.Group
	for _, id := range ids {
		c, ok := b.namespace.Connection(id)
		if !ok {
			continue
		}
		c := c
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			send(c)
			return nil
		})
	}
	_ = g.Wait()
}

type errNamespaceNotRunning struct{}

func (errNamespaceNotRunning) Error() string { return "namespace is not running" }
