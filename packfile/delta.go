package packfile

import (
	"bytes"

	"golang.org/x/xerrors"
)

// ErrDeltaMalformed is returned when a delta's instruction stream can't be
// applied to its base (wrong base size, truncated instruction, out-of-range
// copy).
var ErrDeltaMalformed = xerrors.New("malformed delta")

// applyDelta reconstructs the target object by replaying delta's
// copy/insert instructions against base. A delta is
// "<source-size><target-size><instructions...>", both sizes encoded as
// little-endian base-128 varints.
func applyDelta(base, delta []byte) ([]byte, error) {
	sourceSize, n, err := readDeltaSize(delta)
	if err != nil {
		return nil, xerrors.Errorf("could not read source size: %w", err)
	}
	if sourceSize != len(base) {
		return nil, xerrors.Errorf("base size %d, delta expects %d: %w", len(base), sourceSize, ErrDeltaMalformed)
	}
	delta = delta[n:]

	targetSize, n, err := readDeltaSize(delta)
	if err != nil {
		return nil, xerrors.Errorf("could not read target size: %w", err)
	}
	delta = delta[n:]

	out := bytes.NewBuffer(make([]byte, 0, targetSize))
	i := 0
	for i < len(delta) {
		instr := delta[i]
		i++

		if instr&0b1000_0000 != 0 {
			// COPY: bits 0-3 select which offset bytes are present,
			// bits 4-6 select which length bytes are present.
			offset := 0
			shift := uint(0)
			for bit := 0; bit < 4; bit++ {
				if instr&(1<<uint(bit)) != 0 {
					if i >= len(delta) {
						return nil, xerrors.Errorf("truncated copy offset: %w", ErrDeltaMalformed)
					}
					offset |= int(delta[i]) << shift
					i++
				}
				shift += 8
			}

			length := 0
			shift = 0
			for bit := 4; bit < 7; bit++ {
				if instr&(1<<uint(bit)) != 0 {
					if i >= len(delta) {
						return nil, xerrors.Errorf("truncated copy length: %w", ErrDeltaMalformed)
					}
					length |= int(delta[i]) << shift
					i++
				}
				shift += 8
			}
			if length == 0 {
				length = 0x10000
			}

			if offset < 0 || offset+length > len(base) {
				return nil, xerrors.Errorf("copy [%d:%d] out of base bounds (%d): %w", offset, offset+length, len(base), ErrDeltaMalformed)
			}
			out.Write(base[offset : offset+length])
		} else if instr != 0 {
			// INSERT: the low 7 bits are the literal length that follows.
			length := int(instr)
			if i+length > len(delta) {
				return nil, xerrors.Errorf("truncated insert of length %d: %w", length, ErrDeltaMalformed)
			}
			out.Write(delta[i : i+length])
			i += length
		} else {
			return nil, xerrors.Errorf("reserved instruction 0x00: %w", ErrDeltaMalformed)
		}
	}

	if out.Len() != targetSize {
		return nil, xerrors.Errorf("expected target size %d, got %d: %w", targetSize, out.Len(), ErrDeltaMalformed)
	}
	return out.Bytes(), nil
}

// readDeltaSize reads a little-endian base-128 varint (7 bits of value per
// byte, MSB signals continuation) as used by a delta's source/target size
// header.
func readDeltaSize(data []byte) (size int, bytesRead int, err error) {
	shift := uint(0)
	for i, b := range data {
		size |= int(b&0b0111_1111) << shift
		shift += 7
		if b&0b1000_0000 == 0 {
			return size, i + 1, nil
		}
	}
	return 0, 0, xerrors.Errorf("truncated varint: %w", ErrDeltaMalformed)
}
