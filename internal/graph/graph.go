// Package graph maintains the citation graph over catalog entries.
//
// Edges live in the catalog database. Reference strings that cannot be
// resolved yet are stored pending and retried on every update, since a
// later collection run may bring the cited paper into the catalog.
package graph

import (
	"fmt"
	"strings"
	"sync"

	"github.com/TobiSchelling/PaperTrail/internal/catalog"
	"github.com/TobiSchelling/PaperTrail/internal/identity"
)

// Direction selects which edges Neighbors follows.
type Direction string

const (
	Outgoing Direction = "outgoing" // papers this one cites
	Incoming Direction = "incoming" // papers citing this one
)

// Builder updates and queries the citation graph. Updates are serialized
// behind a single writer; the graph is shared mutable state with no
// natural sharding key.
type Builder struct {
	db *catalog.DB

	mu sync.Mutex
}

func NewBuilder(db *catalog.DB) *Builder {
	return &Builder{db: db}
}

// Update resolves the reference strings of one paper into edges. Each
// reference is matched against the catalog by native identity key, then
// by normalized title fallback key. Matches become idempotent edge
// inserts; the rest is stored pending. Previously pending references of
// every paper are retried too.
func (b *Builder) Update(key string, references []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	index, err := b.catalogIndex()
	if err != nil {
		return err
	}

	for _, ref := range references {
		if err := b.resolveOne(index, key, ref); err != nil {
			return err
		}
	}

	return b.retryPending(index)
}

// catalogIndex maps every known alias (identity key and fallback key) to
// its catalog identity key.
func (b *Builder) catalogIndex() (map[string]string, error) {
	papers, err := b.db.List(catalog.Filter{})
	if err != nil {
		return nil, err
	}
	index := make(map[string]string, len(papers)*2)
	for _, p := range papers {
		index[p.IdentityKey] = p.IdentityKey
		first := ""
		if len(p.Authors) > 0 {
			first = p.Authors[0]
		}
		if fk := identity.FallbackKey(p.Title, first); fk != "" {
			index[fk] = p.IdentityKey
		}
		// Titles cited without a recognizable author still match.
		if fk := identity.FallbackKey(p.Title, ""); fk != "" {
			index[fk] = p.IdentityKey
		}
	}
	return index, nil
}

func (b *Builder) resolveOne(index map[string]string, src, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == src {
		return nil
	}

	if dst, ok := resolveRef(index, ref); ok {
		if dst == src {
			return nil
		}
		return b.db.InsertEdge(src, dst)
	}

	return b.db.UpsertPending(catalog.PendingCitation{
		Src:         src,
		RawText:     ref,
		FallbackKey: identity.FallbackKey(ref, ""),
	})
}

// resolveRef matches one reference string against the catalog index. The
// string may already be an identity key (from a prior resolution) or a
// free-text citation whose normalized form hashes to a fallback key.
func resolveRef(index map[string]string, ref string) (string, bool) {
	if dst, ok := index[ref]; ok {
		return dst, true
	}
	if fk := identity.FallbackKey(ref, ""); fk != "" {
		if dst, ok := index[fk]; ok {
			return dst, true
		}
	}
	return "", false
}

// retryPending re-resolves every stored pending citation against the
// current catalog.
func (b *Builder) retryPending(index map[string]string) error {
	pending, err := b.db.AllPending()
	if err != nil {
		return err
	}
	for _, pc := range pending {
		dst, ok := index[pc.FallbackKey]
		if !ok {
			dst, ok = resolveRef(index, pc.RawText)
		}
		if !ok {
			continue
		}
		if dst != pc.Src {
			if err := b.db.InsertEdge(pc.Src, dst); err != nil {
				return err
			}
		}
		if err := b.db.DeletePending(pc.Src, pc.RawText); err != nil {
			return err
		}
	}
	return nil
}

// Neighbors returns the papers directly connected to key in the given
// direction.
func (b *Builder) Neighbors(key string, dir Direction) ([]string, error) {
	switch dir {
	case Outgoing:
		return b.db.OutgoingEdges(key)
	case Incoming:
		return b.db.IncomingEdges(key)
	default:
		return nil, fmt.Errorf("unknown direction %q", dir)
	}
}

// Component returns the weakly connected component containing key,
// ignoring edge direction. Traversal is iterative BFS with a visited
// set, so citation cycles terminate.
func (b *Builder) Component(key string) ([]string, error) {
	visited := map[string]struct{}{key: {}}
	queue := []string{key}
	component := []string{key}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		out, err := b.db.OutgoingEdges(current)
		if err != nil {
			return nil, err
		}
		in, err := b.db.IncomingEdges(current)
		if err != nil {
			return nil, err
		}

		for _, next := range append(out, in...) {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			component = append(component, next)
			queue = append(queue, next)
		}
	}
	return component, nil
}
