// Package vectorindex provides an in-process cosine-distance nearest
// neighbor index, standing in for the vec_distance_cosine/vec_f32 SQLite
// extension named in the spec: mattn/go-sqlite3 has no such extension
// compiled in, so lookups are served from a contiguous-arena in-memory
// index — adapted from askflow's own sqlite-vec/vectorstore packages,
// generalized from "document chunk embeddings" to "speaker voiceprint" and
// "OCR text" embeddings — kept in sync with the database by the ingest and
// speaker-registry writers that own it.
package vectorindex

import (
	"encoding/binary"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Encode serializes a vector as raw little-endian f32 bytes, 4 bytes per
// component — the byte layout the vector-distance extension would expect
// had mattn/go-sqlite3 compiled one in.
func Encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Decode parses bytes written by Encode back into a float32 vector.
func Decode(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// Match is one nearest-neighbor hit.
type Match struct {
	ID       int64
	Distance float64
}

// Entry is one (id, vector) pair used to bulk-populate an Index at startup.
type Entry struct {
	ID     int64
	Vector []float32
}

// Index is a thread-safe cosine-distance index over float32 vectors keyed
// by an opaque int64 id (a speaker id or a frame id, depending on use).
// Vectors are stored contiguously for cache-friendly scans, the way
// askflow's vectorArena does for document chunks.
type Index struct {
	mu   sync.RWMutex
	dim  int
	ids  []int64
	pos  map[int64]int // id -> index into ids/arena
	data []float32     // len(ids)*dim, row-major
	norm []float64     // precomputed L2 norm per row
}

// New returns an empty index.
func New() *Index {
	return &Index{pos: make(map[int64]int)}
}

// Load replaces the index contents with entries, e.g. at startup when
// hydrating from the speaker_embeddings or ocr_text_embeddings tables.
func (x *Index) Load(entries []Entry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.reset()
	for _, e := range entries {
		x.addLocked(e.ID, e.Vector)
	}
}

func (x *Index) reset() {
	x.dim = 0
	x.ids = nil
	x.pos = make(map[int64]int)
	x.data = nil
	x.norm = nil
}

// Add inserts or replaces the vector for id.
func (x *Index) Add(id int64, vec []float32) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.addLocked(id, vec)
}

func (x *Index) addLocked(id int64, vec []float32) {
	if len(vec) == 0 {
		return
	}
	if x.dim == 0 {
		x.dim = len(vec)
	}
	if len(vec) != x.dim {
		// Dimensionality mismatch: ignore rather than corrupt the arena.
		// Callers are responsible for validating embedding length (spec §9).
		return
	}
	n := vectorNorm(vec)
	if idx, ok := x.pos[id]; ok {
		copy(x.data[idx*x.dim:(idx+1)*x.dim], vec)
		x.norm[idx] = n
		return
	}
	idx := len(x.ids)
	x.pos[id] = idx
	x.ids = append(x.ids, id)
	x.data = append(x.data, vec...)
	x.norm = append(x.norm, n)
}

// Remove deletes id from the index, if present.
func (x *Index) Remove(id int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(id)
}

// RemoveAll deletes every id in ids.
func (x *Index) RemoveAll(ids []int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range ids {
		x.removeLocked(id)
	}
}

func (x *Index) removeLocked(id int64) {
	idx, ok := x.pos[id]
	if !ok {
		return
	}
	last := len(x.ids) - 1
	lastID := x.ids[last]

	// Swap-remove: move the last row into idx's slot.
	copy(x.data[idx*x.dim:(idx+1)*x.dim], x.data[last*x.dim:(last+1)*x.dim])
	x.norm[idx] = x.norm[last]
	x.ids[idx] = lastID
	x.pos[lastID] = idx

	x.ids = x.ids[:last]
	x.norm = x.norm[:last]
	x.data = x.data[:last*x.dim]
	delete(x.pos, id)
}

// Get returns the stored vector for id, if present.
func (x *Index) Get(id int64) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	idx, ok := x.pos[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, x.dim)
	copy(out, x.data[idx*x.dim:(idx+1)*x.dim])
	return out, true
}

func vectorNorm(v []float32) float64 {
	v64 := make([]float64, len(v))
	for i, f := range v {
		v64[i] = float64(f)
	}
	return floats.Norm(v64, 2)
}

func dot(a []float32, bRow []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(bRow[i])
	}
	return sum
}

// cosineDistance returns 1 - cosine_similarity(a, b), using pre-computed
// norm bNorm for the indexed row.
func cosineDistance(a []float32, aNorm float64, bRow []float32, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return math.Inf(1)
	}
	sim := dot(a, bRow) / (aNorm * bNorm)
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return 1 - sim
}

// Nearest returns the single closest vector with distance strictly below
// maxDistance, selected by ascending distance (LIMIT 1 semantics), used by
// get_speaker_from_embedding.
func (x *Index) Nearest(query []float32, maxDistance float64) (Match, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.ids) == 0 || len(query) != x.dim {
		return Match{}, false
	}
	qNorm := vectorNorm(query)
	best := Match{}
	found := false
	for i, id := range x.ids {
		d := cosineDistance(query, qNorm, x.data[i*x.dim:(i+1)*x.dim], x.norm[i])
		if d < maxDistance && (!found || d < best.Distance) {
			best = Match{ID: id, Distance: d}
			found = true
		}
	}
	return best, found
}

// Search returns up to limit matches with distance strictly below
// maxDistance, excluding any id in exclude, sorted ascending by distance.
func (x *Index) Search(query []float32, limit int, maxDistance float64, exclude map[int64]bool) []Match {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.ids) == 0 || len(query) != x.dim {
		return nil
	}
	qNorm := vectorNorm(query)
	matches := make([]Match, 0, len(x.ids))
	for i, id := range x.ids {
		if exclude != nil && exclude[id] {
			continue
		}
		d := cosineDistance(query, qNorm, x.data[i*x.dim:(i+1)*x.dim], x.norm[i])
		if d < maxDistance {
			matches = append(matches, Match{ID: id, Distance: d})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if limit >= 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// Len reports how many vectors are currently indexed.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}
