package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// EncodeFlagsRLE encodes per-cell flag bytes into base64(varint pairs).
// The pairs are (flags, run_len) repeated.
func EncodeFlagsRLE(flags []uint8) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(flags) {
		f := flags[i]
		run := 1
		for j := i + 1; j < len(flags) && flags[j] == f; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(f))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeFlagsRLE decodes EncodeFlagsRLE output. The result must have exactly
// want entries.
func DecodeFlagsRLE(b64 string, want int) ([]uint8, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	out := make([]uint8, 0, want)
	for i := 0; i < len(raw); {
		f, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if f > 0xFF {
			return nil, fmt.Errorf("flags too large: %d", f)
		}
		if run > uint64(want-len(out)) {
			return nil, fmt.Errorf("run overflows %d cells", want)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint8(f))
		}
	}
	if len(out) != want {
		return nil, fmt.Errorf("decoded %d cells, want %d", len(out), want)
	}
	return out, nil
}
