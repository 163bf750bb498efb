package swarm

import (
	"github.com/sanonone/wingbeat/pkg/core/subgraph"
	"github.com/sanonone/wingbeat/pkg/core/types"
	"github.com/tidwall/btree"
)

// ownerItem maps a subgraph id to the tornado that holds it.
type ownerItem struct {
	SubgraphID string
	TornadoID  string
}

// looseItem is a subgraph lying in swarm space, outside any tornado.
type looseItem struct {
	SubgraphID string
	At         types.Vec3
	Subgraph   *subgraph.Subgraph
}

// registry is the single source of truth for "where is subgraph X".
// Both trees are ordered by subgraph id so scans are deterministic.
type registry struct {
	owners  *btree.BTreeG[ownerItem]
	loose   *btree.BTreeG[looseItem]
	retired map[string]struct{}
}

func newRegistry() *registry {
	return &registry{
		owners:  btree.NewBTreeG[ownerItem](func(a, b ownerItem) bool { return a.SubgraphID < b.SubgraphID }),
		loose:   btree.NewBTreeG[looseItem](func(a, b looseItem) bool { return a.SubgraphID < b.SubgraphID }),
		retired: make(map[string]struct{}),
	}
}

func (r *registry) own(subgraphID, tornadoID string) {
	r.owners.Set(ownerItem{SubgraphID: subgraphID, TornadoID: tornadoID})
}

func (r *registry) disown(subgraphID string) {
	r.owners.Delete(ownerItem{SubgraphID: subgraphID})
}

func (r *registry) ownerOf(subgraphID string) (string, bool) {
	item, ok := r.owners.Get(ownerItem{SubgraphID: subgraphID})
	return item.TornadoID, ok
}

func (r *registry) drop(sg *subgraph.Subgraph, at types.Vec3) {
	r.loose.Set(looseItem{SubgraphID: sg.ID, At: at, Subgraph: sg})
}

func (r *registry) pickUp(subgraphID string) (looseItem, bool) {
	return r.loose.Delete(looseItem{SubgraphID: subgraphID})
}

func (r *registry) looseGet(subgraphID string) (looseItem, bool) {
	return r.loose.Get(looseItem{SubgraphID: subgraphID})
}

// looseItems returns the loose pool in id order.
func (r *registry) looseItems() []looseItem {
	out := make([]looseItem, 0, r.loose.Len())
	r.loose.Scan(func(item looseItem) bool {
		out = append(out, item)
		return true
	})
	return out
}

func (r *registry) retire(ids ...string) {
	for _, id := range ids {
		r.retired[id] = struct{}{}
		r.disown(id)
	}
}

func (r *registry) isRetired(id string) bool {
	_, ok := r.retired[id]
	return ok
}

// known reports whether the swarm currently owns id, held or loose.
func (r *registry) known(id string) bool {
	if _, ok := r.ownerOf(id); ok {
		return true
	}
	_, ok := r.looseGet(id)
	return ok
}
