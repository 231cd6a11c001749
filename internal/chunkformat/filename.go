package chunkformat

import (
	"fmt"
	"strconv"
	"strings"
)

// Filenames, spec.md §6:
//
//	chunk_<id:16-hex>_<version:8-hex>.lzc                  Standard
//	chunk_xor<p>_of_<L>_<id>_<version>.lzc                 XOR, p in {1..L, "parity"}
//	chunk_ec_<k>_<m>_<i>_<id>_<version>.lzc                Reed-Solomon
//
// The version in the filename is the authoritative lock: concurrent
// writers observe renames atomically (spec.md §6).

// Filename renders the canonical on-disk filename for (id, version, part).
func Filename(chunkID uint64, version uint32, pt PartType) string {
	switch pt.Family {
	case FamilyStandard:
		return fmt.Sprintf("chunk_%016x_%08x.lzc", chunkID, version)
	case FamilyXOR:
		p := "parity"
		if !pt.IsParity() {
			p = strconv.Itoa(pt.Part)
		}
		return fmt.Sprintf("chunk_xor%s_of_%d_%016x_%08x.lzc", p, pt.Level, chunkID, version)
	case FamilyEC:
		return fmt.Sprintf("chunk_ec_%d_%d_%d_%016x_%08x.lzc", pt.K, pt.M, pt.Index, chunkID, version)
	default:
		return ""
	}
}

// ParseFilename recovers (chunkID, version, PartType) from a chunk
// filename. It is the authoritative source for a part's identity: the
// 1-byte on-disk part_type_id cannot represent an EC (k,m,index) tuple
// (spec.md §9 open question: the disk and wire part-type id encodings
// are not fully orthogonal), so EC identity always comes from here.
func ParseFilename(name string) (chunkID uint64, version uint32, pt PartType, err error) {
	name = strings.TrimSuffix(name, ".lzc")
	if !strings.HasPrefix(name, "chunk_") {
		return 0, 0, PartType{}, fmt.Errorf("%w: %q", ErrFilenameMismatch, name)
	}
	rest := strings.TrimPrefix(name, "chunk_")
	fields := strings.Split(rest, "_")

	parseHex := func(s string, bits int) (uint64, error) {
		v, err := strconv.ParseUint(s, 16, bits)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrFilenameMismatch, s)
		}
		return v, nil
	}

	switch {
	case len(fields) == 2:
		// <id>_<version>
		id, err := parseHex(fields[0], 64)
		if err != nil {
			return 0, 0, PartType{}, err
		}
		ver, err := parseHex(fields[1], 32)
		if err != nil {
			return 0, 0, PartType{}, err
		}
		return id, uint32(ver), Standard(), nil

	case len(fields) == 5 && strings.HasPrefix(fields[0], "xor"):
		// xor<p>_of_<L>_<id>_<version>
		pStr := strings.TrimPrefix(fields[0], "xor")
		level, err := strconv.Atoi(fields[2])
		if err != nil {
			return 0, 0, PartType{}, fmt.Errorf("%w: bad xor level %q", ErrFilenameMismatch, fields[2])
		}
		id, err := parseHex(fields[3], 64)
		if err != nil {
			return 0, 0, PartType{}, err
		}
		ver, err := parseHex(fields[4], 32)
		if err != nil {
			return 0, 0, PartType{}, err
		}
		var pt PartType
		if pStr == "parity" {
			pt = XORParity(level)
		} else {
			part, err := strconv.Atoi(pStr)
			if err != nil {
				return 0, 0, PartType{}, fmt.Errorf("%w: bad xor part %q", ErrFilenameMismatch, pStr)
			}
			pt = XORData(level, part)
		}
		return id, uint32(ver), pt, nil

	case len(fields) == 6 && fields[0] == "ec":
		// ec_<k>_<m>_<i>_<id>_<version>
		k, err1 := strconv.Atoi(fields[1])
		m, err2 := strconv.Atoi(fields[2])
		idx, err3 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil || err3 != nil {
			return 0, 0, PartType{}, fmt.Errorf("%w: bad ec fields in %q", ErrFilenameMismatch, name)
		}
		id, err := parseHex(fields[4], 64)
		if err != nil {
			return 0, 0, PartType{}, err
		}
		ver, err := parseHex(fields[5], 32)
		if err != nil {
			return 0, 0, PartType{}, err
		}
		return id, uint32(ver), ECPart(k, m, idx), nil

	default:
		return 0, 0, PartType{}, fmt.Errorf("%w: unrecognized filename %q", ErrFilenameMismatch, name)
	}
}
