package tsdb

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"math/bits"

	"github.com/dgryski/go-bitstream"
	"github.com/golang/snappy"
	"github.com/jwilder/encoding/simple8b"
	"github.com/pkg/errors"
)

// Snapshot block encodings. Timestamps and sequence numbers are
// delta+simple8b packed; float columns use gorilla-style XOR packing;
// anything else falls back to snappy-compressed JSON.
const (
	blockPackedInts byte = iota
	blockRawInts
	blockFloats
	blockJSON
)

// maxSimple8bValue is the largest value simple8b can pack.
const maxSimple8bValue = (1 << 60) - 1

// simple8bMaxPerWord is the most values a single simple8b word can hold,
// so a decode buffer needs that much slack past the expected count.
const simple8bMaxPerWord = 240

func zigZagEncode(v int64) uint64 { return uint64(v<<1) ^ uint64(v>>63) }

func zigZagDecode(u uint64) int64 { return int64(u>>1) ^ -int64(u&1) }

// encodeInts encodes a slice of int64s as zigzag deltas packed with
// simple8b, falling back to raw 8-byte values when a delta overflows.
func encodeInts(values []int64) []byte {
	deltas := make([]uint64, len(values))
	packable := true
	var prev int64
	for i, v := range values {
		d := zigZagEncode(v - prev)
		if d > maxSimple8bValue {
			packable = false
			break
		}
		deltas[i] = d
		prev = v
	}

	if packable {
		if packed, err := simple8b.EncodeAll(deltas); err == nil {
			buf := make([]byte, 1+8*len(packed))
			buf[0] = blockPackedInts
			for i, w := range packed {
				binary.BigEndian.PutUint64(buf[1+i*8:], w)
			}
			return buf
		}
	}

	buf := make([]byte, 1+8*len(values))
	buf[0] = blockRawInts
	for i, v := range values {
		binary.BigEndian.PutUint64(buf[1+i*8:], uint64(v))
	}
	return buf
}

// decodeInts reverses encodeInts. count is the expected value count.
func decodeInts(b []byte, count int) ([]int64, error) {
	if count == 0 {
		return nil, nil
	}
	if len(b) < 1 {
		return nil, errors.New("short int block")
	}

	switch b[0] {
	case blockRawInts:
		b = b[1:]
		if len(b) < count*8 {
			return nil, errors.New("truncated raw int block")
		}
		values := make([]int64, count)
		for i := range values {
			values[i] = int64(binary.BigEndian.Uint64(b[i*8:]))
		}
		return values, nil

	case blockPackedInts:
		b = b[1:]
		if len(b)%8 != 0 {
			return nil, errors.New("misaligned packed int block")
		}
		packed := make([]uint64, len(b)/8)
		for i := range packed {
			packed[i] = binary.BigEndian.Uint64(b[i*8:])
		}
		deltas := make([]uint64, count+simple8bMaxPerWord)
		n, err := simple8b.DecodeAll(deltas, packed)
		if err != nil {
			return nil, errors.Wrap(err, "simple8b decode")
		}
		if n < count {
			return nil, errors.Errorf("packed int block decoded %d of %d values", n, count)
		}
		values := make([]int64, count)
		var prev int64
		for i := 0; i < count; i++ {
			prev += zigZagDecode(deltas[i])
			values[i] = prev
		}
		return values, nil

	default:
		return nil, errors.Errorf("unknown int block type %d", b[0])
	}
}

// encodeFloats packs a float column with gorilla-style XOR compression.
func encodeFloats(values []float64) []byte {
	var buf bytes.Buffer
	buf.WriteByte(blockFloats)
	w := bitstream.NewWriter(&buf)

	var prev uint64
	var prevLeading, prevTrailing int = -1, -1
	for i, v := range values {
		cur := math.Float64bits(v)
		if i == 0 {
			_ = w.WriteBits(cur, 64)
			prev = cur
			continue
		}

		xor := cur ^ prev
		prev = cur
		if xor == 0 {
			_ = w.WriteBit(bitstream.Zero)
			continue
		}
		_ = w.WriteBit(bitstream.One)

		leading := bits.LeadingZeros64(xor)
		if leading > 31 {
			leading = 31
		}
		trailing := bits.TrailingZeros64(xor)
		sigbits := 64 - leading - trailing

		if prevLeading >= 0 && leading >= prevLeading && trailing >= prevTrailing {
			// Fits inside the previous window.
			_ = w.WriteBit(bitstream.Zero)
			_ = w.WriteBits(xor>>uint(prevTrailing), 64-prevLeading-prevTrailing)
		} else {
			_ = w.WriteBit(bitstream.One)
			_ = w.WriteBits(uint64(leading), 5)
			// 64 significant bits does not fit in the 6-bit field, so it
			// is stored as 0 and mapped back on decode.
			_ = w.WriteBits(uint64(sigbits&0x3f), 6)
			_ = w.WriteBits(xor>>uint(trailing), sigbits)
			prevLeading, prevTrailing = leading, trailing
		}
	}
	_ = w.Flush(bitstream.Zero)
	return buf.Bytes()
}

// decodeFloats reverses encodeFloats.
func decodeFloats(b []byte, count int) ([]float64, error) {
	if count == 0 {
		return nil, nil
	}
	if len(b) < 1 || b[0] != blockFloats {
		return nil, errors.New("bad float block")
	}
	r := bitstream.NewReader(bytes.NewReader(b[1:]))

	values := make([]float64, 0, count)
	first, err := r.ReadBits(64)
	if err != nil {
		return nil, errors.Wrap(err, "float block first value")
	}
	values = append(values, math.Float64frombits(first))

	prev := first
	var leading, trailing int
	for len(values) < count {
		bit, err := r.ReadBit()
		if err != nil {
			return nil, errors.Wrap(err, "float block control bit")
		}
		if bit == bitstream.Zero {
			values = append(values, math.Float64frombits(prev))
			continue
		}

		ctrl, err := r.ReadBit()
		if err != nil {
			return nil, err
		}
		if ctrl == bitstream.One {
			l, err := r.ReadBits(5)
			if err != nil {
				return nil, err
			}
			s, err := r.ReadBits(6)
			if err != nil {
				return nil, err
			}
			leading = int(l)
			sigbits := int(s)
			if sigbits == 0 {
				sigbits = 64
			}
			if leading+sigbits > 64 {
				return nil, errors.New("float block window out of range")
			}
			trailing = 64 - leading - sigbits
		}

		bits, err := r.ReadBits(64 - leading - trailing)
		if err != nil {
			return nil, err
		}
		cur := prev ^ (bits << uint(trailing))
		values = append(values, math.Float64frombits(cur))
		prev = cur
	}
	return values, nil
}

// encodeColumn picks the tightest encoding a column's types allow.
// Uniform float and integer columns get bit-packed; anything with
// mixed types, strings, booleans, or missing cells degrades to JSON.
func encodeColumn(values []interface{}) ([]byte, error) {
	allFloats, allInts := len(values) > 0, len(values) > 0
	for _, v := range values {
		switch v.(type) {
		case float64:
			allInts = false
		case int64:
			allFloats = false
		default:
			allFloats, allInts = false, false
		}
		if !allFloats && !allInts {
			break
		}
	}

	if allFloats {
		floats := make([]float64, len(values))
		for i, v := range values {
			floats[i] = v.(float64)
		}
		return encodeFloats(floats), nil
	}
	if allInts {
		ints := make([]int64, len(values))
		for i, v := range values {
			ints[i] = v.(int64)
		}
		return encodeInts(ints), nil
	}
	return encodeJSONColumn(values)
}

// decodeColumn reverses encodeColumn. count is the expected row count.
func decodeColumn(b []byte, count int) ([]interface{}, error) {
	if count == 0 {
		return nil, nil
	}
	if len(b) < 1 {
		return nil, errors.New("short column block")
	}

	switch b[0] {
	case blockFloats:
		floats, err := decodeFloats(b, count)
		if err != nil {
			return nil, err
		}
		values := make([]interface{}, count)
		for i, v := range floats {
			values[i] = v
		}
		return values, nil

	case blockPackedInts, blockRawInts:
		ints, err := decodeInts(b, count)
		if err != nil {
			return nil, err
		}
		values := make([]interface{}, count)
		for i, v := range ints {
			values[i] = v
		}
		return values, nil

	case blockJSON:
		values, err := decodeJSONColumn(b)
		if err != nil {
			return nil, err
		}
		if len(values) != count {
			return nil, errors.Errorf("json column decoded %d of %d values", len(values), count)
		}
		return values, nil

	default:
		return nil, errors.Errorf("unknown column block type %d", b[0])
	}
}

// encodeJSONColumn snappy-compresses a mixed-type column.
func encodeJSONColumn(values []interface{}) ([]byte, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, errors.Wrap(err, "marshal column")
	}
	return append([]byte{blockJSON}, snappy.Encode(nil, raw)...), nil
}

// decodeJSONColumn reverses encodeJSONColumn.
func decodeJSONColumn(b []byte) ([]interface{}, error) {
	if len(b) < 1 || b[0] != blockJSON {
		return nil, errors.New("bad json block")
	}
	raw, err := snappy.Decode(nil, b[1:])
	if err != nil {
		return nil, errors.Wrap(err, "snappy decode column")
	}
	var values []interface{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, errors.Wrap(err, "unmarshal column")
	}
	return values, nil
}

func writeUvarint(w io.Writer, v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

func writeBlock(w io.Writer, b []byte) error {
	if err := writeUvarint(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBlock(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
