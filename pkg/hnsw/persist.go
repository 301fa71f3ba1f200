package hnsw

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/orneryd/vectordb/pkg/vdberrors"
)

// On-disk layout of index.hnsw, spec.md §6:
//
//	Header: magic "VDBHNSW1" (8B), version u32, N u32, M u32, M0 u32,
//	        ef_construction u32, m_L f32, entry_point u32, max_layer u32.
//	Body:   for each id 0..N: top_layer u8, then for each layer
//	        0..top_layer: count u16, count neighbor ids u32.
const (
	hnswMagic   = "VDBHNSW1"
	hnswVersion = uint32(1)

	// stubTopLayer is the on-disk sentinel for a node with no graph
	// presence (a tombstoned id surviving only to preserve the id
	// space, see stubRecord). It is written in place of top_layer and
	// carries no layer data.
	stubTopLayer = 0xFF
)

// Save writes the full graph to path, creating or truncating it.
func (g *Graph) Save(path string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return vdberrors.Wrap(vdberrors.IO, "hnsw.Save", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	header := make([]byte, 8+4*8) // magic + 8 u32/f32 fields
	copy(header[0:8], hnswMagic)
	binary.LittleEndian.PutUint32(header[8:12], hnswVersion)
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(g.nodes)))
	binary.LittleEndian.PutUint32(header[16:20], uint32(g.cfg.M))
	binary.LittleEndian.PutUint32(header[20:24], uint32(g.cfg.M0))
	binary.LittleEndian.PutUint32(header[24:28], uint32(g.cfg.EfConstruction))
	binary.LittleEndian.PutUint32(header[28:32], math.Float32bits(float32(g.cfg.LevelMult)))
	binary.LittleEndian.PutUint32(header[32:36], g.entryPoint)
	binary.LittleEndian.PutUint32(header[36:40], uint32(g.maxLayer))
	if _, err := w.Write(header); err != nil {
		return vdberrors.Wrap(vdberrors.IO, "hnsw.Save", err)
	}

	for _, rec := range g.nodes {
		if rec.topLayer < 0 {
			if err := w.WriteByte(stubTopLayer); err != nil {
				return vdberrors.Wrap(vdberrors.IO, "hnsw.Save", err)
			}
			continue
		}
		if err := w.WriteByte(byte(rec.topLayer)); err != nil {
			return vdberrors.Wrap(vdberrors.IO, "hnsw.Save", err)
		}
		for l := 0; l <= rec.topLayer; l++ {
			neighbors := rec.neighbors[l]
			var countBuf [2]byte
			binary.LittleEndian.PutUint16(countBuf[:], uint16(len(neighbors)))
			if _, err := w.Write(countBuf[:]); err != nil {
				return vdberrors.Wrap(vdberrors.IO, "hnsw.Save", err)
			}
			for _, nb := range neighbors {
				var idBuf [4]byte
				binary.LittleEndian.PutUint32(idBuf[:], nb)
				if _, err := w.Write(idBuf[:]); err != nil {
					return vdberrors.Wrap(vdberrors.IO, "hnsw.Save", err)
				}
			}
		}
	}

	if err := w.Flush(); err != nil {
		return vdberrors.Wrap(vdberrors.IO, "hnsw.Save", err)
	}
	return f.Sync()
}

// Load reads a graph previously written by Save, wiring it to src for
// vector lookups and cfg for the parameters that aren't round-tripped
// through the file (Metric, Seed, UseHeuristic, ExtendCandidates,
// EfSearch — construction-time behavioral knobs, not graph topology).
func Load(path string, cfg Config, src VectorSource) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, vdberrors.Wrap(vdberrors.IO, "hnsw.Load", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header := make([]byte, 8+4*8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, vdberrors.Wrap(vdberrors.Corruption, "hnsw.Load", err)
	}
	if string(header[0:8]) != hnswMagic {
		return nil, vdberrors.New(vdberrors.Corruption, "hnsw.Load", "bad magic")
	}
	version := binary.LittleEndian.Uint32(header[8:12])
	if version != hnswVersion {
		return nil, vdberrors.New(vdberrors.Corruption, "hnsw.Load", "unknown format version")
	}
	n := binary.LittleEndian.Uint32(header[12:16])
	cfg.M = int(binary.LittleEndian.Uint32(header[16:20]))
	cfg.M0 = int(binary.LittleEndian.Uint32(header[20:24]))
	cfg.EfConstruction = int(binary.LittleEndian.Uint32(header[24:28]))
	cfg.LevelMult = float64(math.Float32frombits(binary.LittleEndian.Uint32(header[28:32])))
	entryPoint := binary.LittleEndian.Uint32(header[32:36])
	maxLayer := int(binary.LittleEndian.Uint32(header[36:40]))

	g := New(cfg, src)
	g.nodes = make([]*nodeRecord, 0, n)
	for i := uint32(0); i < n; i++ {
		topLayerByte, err := r.ReadByte()
		if err != nil {
			return nil, vdberrors.Wrap(vdberrors.Corruption, "hnsw.Load", err)
		}
		if topLayerByte == stubTopLayer {
			g.nodes = append(g.nodes, stubRecord())
			continue
		}
		topLayer := int(topLayerByte)
		rec := &nodeRecord{topLayer: topLayer, neighbors: make([][]uint32, topLayer+1)}
		for l := 0; l <= topLayer; l++ {
			var countBuf [2]byte
			if _, err := io.ReadFull(r, countBuf[:]); err != nil {
				return nil, vdberrors.Wrap(vdberrors.Corruption, "hnsw.Load", err)
			}
			count := binary.LittleEndian.Uint16(countBuf[:])
			neighbors := make([]uint32, count)
			for j := uint16(0); j < count; j++ {
				var idBuf [4]byte
				if _, err := io.ReadFull(r, idBuf[:]); err != nil {
					return nil, vdberrors.Wrap(vdberrors.Corruption, "hnsw.Load", err)
				}
				neighbors[j] = binary.LittleEndian.Uint32(idBuf[:])
			}
			rec.neighbors[l] = neighbors
		}
		g.nodes = append(g.nodes, rec)
	}

	if n > 0 {
		g.hasEntry = true
		g.entryPoint = entryPoint
		g.maxLayer = maxLayer
	}

	return g, nil
}
