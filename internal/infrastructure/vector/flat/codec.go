package flat

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

// Snapshot layout: magic | uint16 version | sha256(body) | body, where body
// is a zstd-compressed gob of snapshot.
const (
	snapshotMagic          = "EVIX"
	snapshotVersion uint16 = 1
	headerSize             = len(snapshotMagic) + 2 + sha256.Size
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

type snapshot struct {
	Key    string
	Model  string
	Dims   int
	Chunks []domain.Chunk
}

// MarshalBinary serialises the index, vectors included.
func (ix *Index) MarshalBinary() ([]byte, error) {
	var body bytes.Buffer
	snap := snapshot{Key: ix.key, Model: ix.model, Dims: ix.dims, Chunks: ix.chunks}
	if err := gob.NewEncoder(&body).Encode(snap); err != nil {
		return nil, fmt.Errorf("encode index snapshot: %w", err)
	}
	compressed := encoder.EncodeAll(body.Bytes(), nil)
	sum := sha256.Sum256(compressed)

	out := make([]byte, 0, headerSize+len(compressed))
	out = append(out, snapshotMagic...)
	out = binary.BigEndian.AppendUint16(out, snapshotVersion)
	out = append(out, sum[:]...)
	return append(out, compressed...), nil
}

// Unmarshal restores an index written by MarshalBinary. Damaged payloads
// return domain.ErrSnapshotCorrupt; other versions return
// domain.ErrSnapshotVersion.
func Unmarshal(data []byte) (*Index, error) {
	const op = "decode index snapshot"
	if len(data) < headerSize || string(data[:len(snapshotMagic)]) != snapshotMagic {
		return nil, domain.WrapError(domain.ErrSnapshotCorrupt, op, fmt.Errorf("bad header"))
	}
	offset := len(snapshotMagic)
	if v := binary.BigEndian.Uint16(data[offset:]); v != snapshotVersion {
		return nil, domain.WrapError(domain.ErrSnapshotVersion, op, fmt.Errorf("version %d, want %d", v, snapshotVersion))
	}
	offset += 2
	want := data[offset : offset+sha256.Size]
	body := data[headerSize:]
	got := sha256.Sum256(body)
	if !bytes.Equal(want, got[:]) {
		return nil, domain.WrapError(domain.ErrSnapshotCorrupt, op, fmt.Errorf("checksum mismatch"))
	}

	raw, err := decoder.DecodeAll(body, nil)
	if err != nil {
		return nil, domain.WrapError(domain.ErrSnapshotCorrupt, op, err)
	}
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		return nil, domain.WrapError(domain.ErrSnapshotCorrupt, op, err)
	}
	for i, c := range snap.Chunks {
		if len(c.Embedding) != snap.Dims {
			return nil, domain.WrapError(domain.ErrSnapshotCorrupt, op,
				fmt.Errorf("chunk %d has %d dimensions, want %d", i, len(c.Embedding), snap.Dims))
		}
	}
	return &Index{key: snap.Key, model: snap.Model, dims: snap.Dims, chunks: snap.Chunks}, nil
}
