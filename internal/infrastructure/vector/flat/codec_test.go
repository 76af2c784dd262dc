package flat

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

func TestSnapshotRoundTripPreservesSearch(t *testing.T) {
	ix, _ := buildTestIndex(t)
	data, err := ix.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	restored, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if restored.Key() != ix.Key() || restored.Len() != ix.Len() || restored.Dimensions() != ix.Dimensions() {
		t.Fatalf("restored index differs: %s/%d/%d", restored.Key(), restored.Len(), restored.Dimensions())
	}

	for _, q := range [][]float32{{1, 0, 0}, {0, 1, 0}, {0.3, 0.3, 0.9}} {
		want, _ := ix.Search(q, 4, 0)
		got, _ := restored.Search(q, 4, 0)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("search differs after round trip (-want +got):\n%s", diff)
		}
	}
}

func TestUnmarshalRejectsDamage(t *testing.T) {
	ix, _ := buildTestIndex(t)
	data, _ := ix.MarshalBinary()

	flipped := append([]byte(nil), data...)
	flipped[len(flipped)-1] ^= 0xff
	if _, err := Unmarshal(flipped); !domain.IsKind(err, domain.ErrSnapshotCorrupt) {
		t.Fatalf("expected corrupt error, got %v", err)
	}

	if _, err := Unmarshal([]byte("junk")); !domain.IsKind(err, domain.ErrSnapshotCorrupt) {
		t.Fatalf("expected corrupt error for short input, got %v", err)
	}

	versioned := append([]byte(nil), data...)
	versioned[5] = 99
	if _, err := Unmarshal(versioned); !domain.IsKind(err, domain.ErrSnapshotVersion) {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestMarshalBinaryWritesHeader(t *testing.T) {
	ix, _ := buildTestIndex(t)
	data, err := ix.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	if len(data) <= headerSize {
		t.Fatalf("snapshot of %d bytes has no body past the %d byte header", len(data), headerSize)
	}
	if got := string(data[:len(snapshotMagic)]); got != snapshotMagic {
		t.Fatalf("magic = %q, want %q", got, snapshotMagic)
	}
	if data[4] != 0 || data[5] != byte(snapshotVersion) {
		t.Fatalf("version bytes = %v, want [0 %d]", data[4:6], snapshotVersion)
	}
}
