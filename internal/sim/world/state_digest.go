package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// stateDigest hashes everything a replay must reproduce: the tick, the grid
// flags and every component in id order.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	for _, n := range w.grid.Size() {
		digestWriteI64(h, &tmp, int64(n))
	}
	h.Write(w.grid.Flags())

	for _, id := range w.sortedComponentIDs() {
		p := w.comps[id]
		h.Write([]byte(id))
		for _, v := range p.pos.ToArray() {
			digestWriteI64(h, &tmp, int64(v))
		}
		digestWriteI64(h, &tmp, int64(p.comp.State()))
		h.Write([]byte{byte(p.comp.Faces())})
	}
	digestWriteU64(h, &tmp, w.nextComp)

	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hash.Hash, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}
