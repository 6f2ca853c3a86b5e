package vcdiff

type instType uint8

const (
	instNoop instType = iota
	instAdd
	instRun
	instCopy
)

type halfInstruction struct {
	typ  instType
	size int // 0 means the size is encoded explicitly in the instructions stream
	mode int // COPY only
}

type codeTableEntry struct {
	first  halfInstruction
	second halfInstruction
}

const (
	defaultNearSize = 4
	defaultSameSize = 3
)

// defaultCodeTable is generated the way every VCDIFF decoder must: entries
// 0-162 are the single-instruction RUN/ADD/COPY forms, 163-255 are the
// composite ADD+COPY / COPY+ADD forms RFC 3284 packs in to let common
// diff shapes fit in one instruction byte. Custom code tables are an
// explicit non-goal; only this table is ever used.
var defaultCodeTable = buildDefaultCodeTable()

func buildDefaultCodeTable() [256]codeTableEntry {
	var table [256]codeTableEntry
	idx := 0

	table[idx] = codeTableEntry{first: halfInstruction{typ: instRun, size: 0}}
	idx++

	for size := 0; size <= 17; size++ {
		table[idx] = codeTableEntry{first: halfInstruction{typ: instAdd, size: size}}
		idx++
	}

	for mode := 0; mode <= 8; mode++ {
		table[idx] = codeTableEntry{first: halfInstruction{typ: instCopy, size: 0, mode: mode}}
		idx++
		for size := 4; size <= 18; size++ {
			table[idx] = codeTableEntry{first: halfInstruction{typ: instCopy, size: size, mode: mode}}
			idx++
		}
	}
	// idx == 163 here: the single-instruction region is exhausted.

	for mode := 0; mode <= 5; mode++ {
		for addSize := 1; addSize <= 4; addSize++ {
			for size := 4; size <= 6; size++ {
				table[idx] = codeTableEntry{
					first:  halfInstruction{typ: instAdd, size: addSize},
					second: halfInstruction{typ: instCopy, size: size, mode: mode},
				}
				idx++
			}
		}
	}

	for mode := 6; mode <= 8; mode++ {
		for addSize := 1; addSize <= 4; addSize++ {
			table[idx] = codeTableEntry{
				first:  halfInstruction{typ: instAdd, size: addSize},
				second: halfInstruction{typ: instCopy, size: 4, mode: mode},
			}
			idx++
		}
	}

	for mode := 0; mode <= 8; mode++ {
		table[idx] = codeTableEntry{
			first:  halfInstruction{typ: instCopy, size: 4, mode: mode},
			second: halfInstruction{typ: instAdd, size: 1},
		}
		idx++
	}

	return table
}
