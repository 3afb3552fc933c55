package hnsw

import (
	"container/heap"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/latticemem/engine/internal/vector"
)

// Index is the hierarchical navigable small-world graph. All mutation goes
// through a single RWMutex: Insert takes the write lock, serializing
// inserts in arrival order; Search takes the read lock, observing a
// self-consistent snapshot across vectors, metadata, and adjacency.
type Index struct {
	params Params

	mu           sync.RWMutex
	vectors      map[int64][]float32
	metadata     map[int64]Metadata
	layers       []map[int64]map[int64]struct{} // layers[l][id] = neighbor ids at layer l
	nodeTopLayer map[int64]int
	entry        int64
	hasEntry     bool
	nodeCount    int
}

// New builds an empty Index with the given parameters.
func New(params Params) *Index {
	if params.M <= 0 {
		params.M = 16
	}
	if params.EfConstruction <= 0 {
		params.EfConstruction = 200
	}
	if params.EfSearch <= 0 {
		params.EfSearch = 100
	}
	if params.MaxLayers <= 0 {
		params.MaxLayers = 5
	}
	return &Index{
		params:       params,
		vectors:      make(map[int64][]float32),
		metadata:     make(map[int64]Metadata),
		layers:       make([]map[int64]map[int64]struct{}, 0, params.MaxLayers),
		nodeTopLayer: make(map[int64]int),
	}
}

// assignLayer draws the top layer for a new node from the exponential
// decay distribution, clipped to MaxLayers-1.
func (idx *Index) assignLayer() int {
	u := 1 - rand.Float64() // rand.Float64 is [0,1); want U ∈ (0,1]
	l := int(math.Floor(-math.Log(u) * (1 / math.Ln2)))
	if l > idx.params.MaxLayers-1 {
		l = idx.params.MaxLayers - 1
	}
	return l
}

func (idx *Index) ensureLayers(upTo int) {
	for len(idx.layers) <= upTo {
		idx.layers = append(idx.layers, make(map[int64]map[int64]struct{}))
	}
}

// Insert adds id with vector v and metadata meta. Concurrent inserts are
// serialized under the write lock, processed in the order they acquire it.
func (idx *Index) Insert(id int64, v []float32, meta Metadata) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.insertLocked(id, v, meta)
}

func (idx *Index) insertLocked(id int64, v []float32, meta Metadata) {
	v = vector.Normalize(v)
	idx.vectors[id] = v
	idx.metadata[id] = meta

	l := idx.assignLayer()
	idx.ensureLayers(l)

	if !idx.hasEntry {
		idx.entry = id
		idx.hasEntry = true
		idx.nodeTopLayer[id] = l
		for layer := 0; layer <= l; layer++ {
			idx.layers[layer][id] = make(map[int64]struct{})
		}
		idx.nodeCount++
		return
	}

	entryTop := idx.nodeTopLayer[idx.entry]
	cur := idx.entry

	// Greedy descent with ef=1 down to layer l+1 to find a good entry
	// point for the layers this node actually participates in.
	for layer := entryTop; layer > l; layer-- {
		if layer >= len(idx.layers) {
			continue
		}
		best := idx.searchLayerKNN(layer, v, 1, []int64{cur}, nil)
		if len(best) > 0 {
			cur = best[0].id
		}
	}

	start := l
	if entryTop < start {
		start = entryTop
	}
	for layer := start; layer >= 0; layer-- {
		candidates := idx.searchLayerKNN(layer, v, idx.params.EfConstruction, []int64{cur}, nil)
		neighbors := candidates
		if len(neighbors) > idx.params.M {
			neighbors = neighbors[:idx.params.M]
		}

		if _, ok := idx.layers[layer][id]; !ok {
			idx.layers[layer][id] = make(map[int64]struct{})
		}
		for _, n := range neighbors {
			idx.addEdge(layer, id, n.id)
			idx.pruneIfNeeded(layer, n.id)
		}
		if len(candidates) > 0 {
			cur = candidates[0].id
		}
	}

	// A node at layer l must be present (even with no neighbors yet) in
	// every layer 0..l. The loop above only walks down from min(l, entryTop),
	// so when this node's drawn layer exceeds every existing node's layer,
	// seed its empty adjacency sets for the layers above entryTop too; there
	// is nothing yet to connect to up there regardless.
	for layer := entryTop + 1; layer <= l; layer++ {
		if _, ok := idx.layers[layer][id]; !ok {
			idx.layers[layer][id] = make(map[int64]struct{})
		}
	}

	idx.nodeTopLayer[id] = l
	if l > entryTop {
		idx.entry = id
	}
	idx.nodeCount++
}

// addEdge adds a bidirectional edge between a and b at layer.
func (idx *Index) addEdge(layer int, a, b int64) {
	if idx.layers[layer][a] == nil {
		idx.layers[layer][a] = make(map[int64]struct{})
	}
	if idx.layers[layer][b] == nil {
		idx.layers[layer][b] = make(map[int64]struct{})
	}
	idx.layers[layer][a][b] = struct{}{}
	idx.layers[layer][b][a] = struct{}{}
}

// pruneIfNeeded trims n's neighbor set at layer down to M closest nodes by
// Euclidean distance from n's vector, removing the corresponding reverse
// edges so adjacency stays symmetric.
func (idx *Index) pruneIfNeeded(layer int, n int64) {
	neighbors := idx.layers[layer][n]
	if len(neighbors) <= idx.params.M {
		return
	}
	nv, ok := idx.vectors[n]
	if !ok {
		return
	}

	cands := make([]candidate, 0, len(neighbors))
	for nb := range neighbors {
		ov, ok := idx.vectors[nb]
		dist := math.Inf(1)
		if ok {
			dist = vector.Euclidean(nv, ov)
		}
		cands = append(cands, candidate{id: nb, dist: dist})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].id < cands[j].id
	})

	keep := make(map[int64]struct{}, idx.params.M)
	for i := 0; i < idx.params.M && i < len(cands); i++ {
		keep[cands[i].id] = struct{}{}
	}
	for _, c := range cands {
		if _, ok := keep[c.id]; !ok {
			delete(idx.layers[layer][n], c.id)
			if peer := idx.layers[layer][c.id]; peer != nil {
				delete(peer, n)
			}
		}
	}
}

// searchLayerKNN runs best-first search within one layer starting from
// entryPoints, returning up to ef candidates sorted ascending by distance.
// A missing vector for a visited neighbor is treated as distance +Inf for
// that edge, per the index's failure semantics, and never surfaces as a
// result.
func (idx *Index) searchLayerKNN(layer int, query []float32, ef int, entryPoints []int64, filter Filter) []candidate {
	visited := make(map[int64]struct{})
	candidates := &minHeap{}
	results := &maxHeap{}
	heap.Init(candidates)
	heap.Init(results)

	for _, ep := range entryPoints {
		v, ok := idx.vectors[ep]
		if !ok {
			continue
		}
		d := vector.Euclidean(query, v)
		visited[ep] = struct{}{}
		heap.Push(candidates, candidate{id: ep, dist: d})
		heap.Push(results, candidate{id: ep, dist: d})
	}

	for candidates.Len() > 0 {
		best := (*candidates)[0]
		if results.Len() >= ef && best.dist > (*results)[0].dist {
			break
		}
		heap.Pop(candidates)

		neighbors := idx.layers[layer][best.id]
		for nb := range neighbors {
			if _, seen := visited[nb]; seen {
				continue
			}
			visited[nb] = struct{}{}
			nv, ok := idx.vectors[nb]
			d := math.Inf(1)
			if ok {
				d = vector.Euclidean(query, nv)
			}
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(candidates, candidate{id: nb, dist: d})
				heap.Push(results, candidate{id: nb, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	copy(out, *results)
	sort.Slice(out, func(i, j int) bool {
		if out[i].dist != out[j].dist {
			return out[i].dist < out[j].dist
		}
		return out[i].id < out[j].id
	})
	if filter != nil {
		filtered := out[:0]
		for _, c := range out {
			if meta, ok := idx.metadata[c.id]; ok && filter(c.id, meta) {
				filtered = append(filtered, c)
			}
		}
		out = filtered
	}
	return out
}

// Search returns up to k nearest neighbors of q, optionally restricted by
// filter. Returns an empty slice (never an error) when the index is empty.
func (idx *Index) Search(q []float32, k int, filter Filter) []SearchResult {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.hasEntry {
		return nil
	}
	q = vector.Normalize(q)

	cur := idx.entry
	entryTop := idx.nodeTopLayer[idx.entry]
	for layer := entryTop; layer > 0; layer-- {
		if layer >= len(idx.layers) {
			continue
		}
		best := idx.searchLayerKNN(layer, q, 1, []int64{cur}, nil)
		if len(best) > 0 {
			cur = best[0].id
		}
	}

	ef := idx.params.EfSearch
	if k > ef {
		ef = k
	}
	candidates := idx.searchLayerKNN(0, q, ef, []int64{cur}, filter)

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]SearchResult, 0, k)
	for i := 0; i < k; i++ {
		c := candidates[i]
		// On unit vectors, Euclidean d satisfies d² = 2(1-cos); similarity
		// is reported as 1-d directly, per the index's search contract.
		sim := 1 - c.dist
		out = append(out, SearchResult{ID: c.id, Similarity: sim, Metadata: idx.metadata[c.id]})
	}
	return out
}

// BatchInsert applies Insert for each item under a single held write lock,
// reporting per-item success. A missing or empty vector is recorded as a
// failure for that item only; the batch continues.
func (idx *Index) BatchInsert(ids []int64, vectors [][]float32, metas []Metadata) []error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	errsOut := make([]error, len(ids))
	for i := range ids {
		if len(vectors[i]) == 0 {
			errsOut[i] = errMissingVector(ids[i])
			continue
		}
		idx.insertLocked(ids[i], vectors[i], metas[i])
	}
	return errsOut
}

// NodeCount, VectorCount, MetadataCount expose raw sizes for health checks
// and tests.
func (idx *Index) NodeCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.nodeCount
}

func (idx *Index) snapshotSizes() (nodeCount, vectors, metadata int) {
	return idx.nodeCount, len(idx.vectors), len(idx.metadata)
}

func errMissingVector(id int64) error {
	return &missingVectorError{id: id}
}

type missingVectorError struct{ id int64 }

func (e *missingVectorError) Error() string {
	return "hnsw: missing or empty vector for id"
}
