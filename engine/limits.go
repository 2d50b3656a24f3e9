package engine

import (
	"bytes"
	"io"

	"github.com/wippyai/wasm-guard/errors"
)

// WebAssembly binary section IDs and import kinds used by the limits scan.
const (
	sectionImport byte = 2
	sectionMemory byte = 5

	kindFunc   byte = 0
	kindTable  byte = 1
	kindMemory byte = 2
	kindGlobal byte = 3
	kindTag    byte = 4
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// memoryLimits holds one linear memory's declared page limits.
type memoryLimits struct {
	minPages uint32
	maxPages uint32
	hasMax   bool
}

// scanMemoryLimits walks the binary's import and memory sections and
// returns the limits of every linear memory the module declares or
// imports. It reads only section headers and limits, skipping everything
// else.
func scanMemoryLimits(module []byte) ([]memoryLimits, error) {
	if len(module) < len(wasmMagic) || !bytes.Equal(module[:len(wasmMagic)], wasmMagic) {
		return nil, errors.Structural("not a wasm binary")
	}

	var out []memoryLimits
	r := bytes.NewReader(module[len(wasmMagic):])
	for {
		id, err := r.ReadByte()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, errors.Structural("truncated section header")
		}
		size, err := uleb32(r)
		if err != nil {
			return nil, err
		}
		if uint64(size) > uint64(r.Len()) {
			return nil, errors.Structural("section size exceeds binary")
		}

		switch id {
		case sectionImport:
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, errors.Structural("truncated import section")
			}
			imported, err := scanImportedMemories(bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			out = append(out, imported...)
		case sectionMemory:
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, errors.Structural("truncated memory section")
			}
			br := bytes.NewReader(body)
			count, err := uleb32(br)
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < count; i++ {
				lim, err := readLimits(br)
				if err != nil {
					return nil, err
				}
				out = append(out, lim)
			}
		default:
			if _, err := r.Seek(int64(size), io.SeekCurrent); err != nil {
				return nil, errors.Structural("truncated section body")
			}
		}
	}
}

func scanImportedMemories(r *bytes.Reader) ([]memoryLimits, error) {
	count, err := uleb32(r)
	if err != nil {
		return nil, err
	}
	var out []memoryLimits
	for i := uint32(0); i < count; i++ {
		if err := skipName(r); err != nil {
			return nil, err
		}
		if err := skipName(r); err != nil {
			return nil, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return nil, errors.Structural("truncated import descriptor")
		}
		switch kind {
		case kindFunc:
			if _, err := uleb32(r); err != nil {
				return nil, err
			}
		case kindTable:
			if _, err := r.ReadByte(); err != nil {
				return nil, errors.Structural("truncated table import")
			}
			if _, err := readLimits(r); err != nil {
				return nil, err
			}
		case kindMemory:
			lim, err := readLimits(r)
			if err != nil {
				return nil, err
			}
			out = append(out, lim)
		case kindGlobal:
			if _, err := r.ReadByte(); err != nil {
				return nil, errors.Structural("truncated global import")
			}
			if _, err := r.ReadByte(); err != nil {
				return nil, errors.Structural("truncated global import")
			}
		case kindTag:
			if _, err := r.ReadByte(); err != nil {
				return nil, errors.Structural("truncated tag import")
			}
			if _, err := uleb32(r); err != nil {
				return nil, err
			}
		default:
			return nil, errors.Structural("unknown import kind 0x%02x", kind)
		}
	}
	return out, nil
}

// readLimits decodes a limits encoding: flags byte, min, optional max.
// Flag bit 0 signals a declared maximum; bit 1 (shared memory) is
// tolerated.
func readLimits(r *bytes.Reader) (memoryLimits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return memoryLimits{}, errors.Structural("truncated limits")
	}
	if flags > 0x03 {
		return memoryLimits{}, errors.Structural("unsupported limits flags 0x%02x", flags)
	}
	min, err := uleb32(r)
	if err != nil {
		return memoryLimits{}, err
	}
	lim := memoryLimits{minPages: min}
	if flags&0x01 != 0 {
		max, err := uleb32(r)
		if err != nil {
			return memoryLimits{}, err
		}
		lim.maxPages = max
		lim.hasMax = true
	}
	return lim, nil
}

func skipName(r *bytes.Reader) error {
	n, err := uleb32(r)
	if err != nil {
		return err
	}
	if _, err := r.Seek(int64(n), io.SeekCurrent); err != nil {
		return errors.Structural("truncated name")
	}
	return nil
}

// uleb32 reads an unsigned LEB128 value capped at 32 bits.
func uleb32(r io.ByteReader) (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, errors.Structural("truncated leb128 value")
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, errors.Structural("leb128 overflow")
		}
	}
}
