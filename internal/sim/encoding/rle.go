package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// AppendRLE appends varint (value, run_len) pairs for cells to dst.
// Cells are any uint32-backed value such as block data.
func AppendRLE[T ~uint32](dst []byte, cells []T) []byte {
	buf := bytes.NewBuffer(dst)
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(cells) {
		v := cells[i]
		run := 1
		for j := i + 1; j < len(cells) && cells[j] == v; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(v))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}
	return buf.Bytes()
}

// DecodeRLEInto expands raw pairs into out, which must have exactly the encoded length.
func DecodeRLEInto[T ~uint32](raw []byte, out []T) error {
	pos := 0
	for i := 0; i < len(raw); {
		v, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if v > 0xFFFFFFFF {
			return fmt.Errorf("cell value too large: %d", v)
		}
		if run == 0 || run > uint64(len(out)-pos) {
			return fmt.Errorf("run %d overflows %d cells at offset %d", run, len(out), pos)
		}
		for k := 0; k < int(run); k++ {
			out[pos] = T(v)
			pos++
		}
	}
	if pos != len(out) {
		return fmt.Errorf("decoded %d cells, want %d", pos, len(out))
	}
	return nil
}

// EncodeRLE is the base64 form carried inside JSON packets.
func EncodeRLE[T ~uint32](cells []T) string {
	return base64.StdEncoding.EncodeToString(AppendRLE(nil, cells))
}

func DecodeRLE[T ~uint32](b64 string, n int) ([]T, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	out := make([]T, n)
	if err := DecodeRLEInto(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}
