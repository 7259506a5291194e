// Package store persists the control plane's state: the voxel world in a
// goleveldb chunk database, and the turtle/depot/task fleet state in
// human-readable TOML snapshots.
package store

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/df-mc/goleveldb/leveldb/util"
	"github.com/klauspost/compress/zstd"

	"github.com/Speedy6451/avarus/server/world"
)

// chunkCells is the number of cells in one world.Chunk (4x4x4); mirrored
// here since world keeps its chunk layout unexported.
const chunkCells = 64

// compressThreshold is the raw value size above which a chunk record is
// zstd-compressed; small chunks aren't worth the framing overhead.
const compressThreshold = 256

// ChunkStore persists World chunks in a goleveldb database, one record
// per chunk, keyed by a 12-byte big-endian encoding of ChunkPos.
type ChunkStore struct {
	db *leveldb.DB
}

// OpenChunkStore opens (creating if absent) the goleveldb database at dir.
func OpenChunkStore(dir string) (*ChunkStore, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("store: open chunk database: %w", err)
	}
	return &ChunkStore{db: db}, nil
}

// Close releases the underlying database handle.
func (cs *ChunkStore) Close() error {
	return cs.db.Close()
}

// chunkKey encodes pos as 12 bytes: three big-endian int32s.
func chunkKey(pos world.ChunkPos) []byte {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(pos.X))
	binary.BigEndian.PutUint32(buf[4:8], uint32(pos.Y))
	binary.BigEndian.PutUint32(buf[8:12], uint32(pos.Z))
	return buf[:]
}

func chunkPosFromKey(key []byte) (world.ChunkPos, error) {
	if len(key) != 12 {
		return world.ChunkPos{}, fmt.Errorf("store: malformed chunk key (len %d)", len(key))
	}
	return world.ChunkPos{
		X: int32(binary.BigEndian.Uint32(key[0:4])),
		Y: int32(binary.BigEndian.Uint32(key[4:8])),
		Z: int32(binary.BigEndian.Uint32(key[8:12])),
	}, nil
}

// encodeChunkCells packs a chunk's known cells (local index 0-63, name) as
// a flat record: a uint16 count followed by (uint8 index, uint16 length,
// name bytes) triples.
func encodeChunkCells(pos world.ChunkPos, cells map[world.Cell]string) []byte {
	base := world.Cell{X: pos.X * 4, Y: pos.Y * 4, Z: pos.Z * 4}
	var buf bytes.Buffer
	var countBuf [2]byte
	binary.BigEndian.PutUint16(countBuf[:], uint16(len(cells)))
	buf.Write(countBuf[:])
	for cell, name := range cells {
		local := cell.Sub(base)
		idx := uint8(local.X*16 + local.Y*4 + local.Z)
		buf.WriteByte(idx)
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(name)))
		buf.Write(lenBuf[:])
		buf.WriteString(name)
	}
	return buf.Bytes()
}

func decodeChunkCells(pos world.ChunkPos, raw []byte) (map[world.Cell]string, error) {
	base := world.Cell{X: pos.X * 4, Y: pos.Y * 4, Z: pos.Z * 4}
	if len(raw) < 2 {
		return nil, fmt.Errorf("store: truncated chunk record")
	}
	count := binary.BigEndian.Uint16(raw[0:2])
	raw = raw[2:]
	cells := make(map[world.Cell]string, count)
	for i := uint16(0); i < count; i++ {
		if len(raw) < 3 {
			return nil, fmt.Errorf("store: truncated chunk record entry %d", i)
		}
		idx := raw[0]
		nameLen := binary.BigEndian.Uint16(raw[1:3])
		raw = raw[3:]
		if len(raw) < int(nameLen) {
			return nil, fmt.Errorf("store: truncated chunk record name %d", i)
		}
		name := string(raw[:nameLen])
		raw = raw[nameLen:]

		lx, rem := idx/16, idx%16
		ly, lz := rem/4, rem%4
		cell := world.Cell{X: base.X + int32(lx), Y: base.Y + int32(ly), Z: base.Z + int32(lz)}
		cells[cell] = name
	}
	return cells, nil
}

// recordFlag distinguishes a raw record from a zstd-compressed one so
// SaveChunk can skip compression for chunks too small to benefit.
type recordFlag byte

const (
	flagRaw        recordFlag = 0
	flagCompressed recordFlag = 1
)

// SaveChunk writes c's known cells to the database, compressing the
// record above compressThreshold.
func (cs *ChunkStore) SaveChunk(c *world.Chunk) error {
	raw := encodeChunkCells(c.Pos(), c.Cells())

	flag := flagRaw
	payload := raw
	if len(raw) > compressThreshold {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("store: build zstd encoder: %w", err)
		}
		payload = enc.EncodeAll(raw, nil)
		enc.Close()
		flag = flagCompressed
	}

	value := make([]byte, 0, len(payload)+1)
	value = append(value, byte(flag))
	value = append(value, payload...)

	return cs.db.Put(chunkKey(c.Pos()), value, nil)
}

// LoadAll reads every persisted chunk. Missing databases (a fresh save
// directory) are not an error; Open already created an empty one.
func (cs *ChunkStore) LoadAll() ([]*world.Chunk, error) {
	iter := cs.db.NewIterator(&util.Range{}, nil)
	defer iter.Release()

	var out []*world.Chunk
	for iter.Next() {
		pos, err := chunkPosFromKey(iter.Key())
		if err != nil {
			return nil, err
		}
		value := iter.Value()
		if len(value) < 1 {
			return nil, fmt.Errorf("store: empty chunk record at %v", pos)
		}
		flag, payload := recordFlag(value[0]), value[1:]
		if flag == flagCompressed {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return nil, fmt.Errorf("store: build zstd decoder: %w", err)
			}
			decoded, err := dec.DecodeAll(payload, nil)
			dec.Close()
			if err != nil {
				return nil, fmt.Errorf("store: decompress chunk at %v: %w", pos, err)
			}
			payload = decoded
		}
		cells, err := decodeChunkCells(pos, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, world.NewChunk(pos, cells))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("store: iterate chunk database: %w", err)
	}
	return out, nil
}

// LoadWorld loads every persisted chunk directly into w.
func (cs *ChunkStore) LoadWorld(w *world.World) error {
	chunks, err := cs.LoadAll()
	if err != nil {
		return err
	}
	for _, c := range chunks {
		w.LoadChunk(c)
	}
	return nil
}

// SaveWorld writes every chunk currently loaded in w.
func (cs *ChunkStore) SaveWorld(w *world.World) error {
	for _, c := range w.Chunks() {
		if err := cs.SaveChunk(c); err != nil {
			return err
		}
	}
	return nil
}

// ErrNotFound is re-exported for callers that need to distinguish a
// missing single record from other failures.
var ErrNotFound = leveldb.ErrNotFound
