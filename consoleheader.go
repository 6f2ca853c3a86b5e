package romdiff

import (
	"path/filepath"
	"strings"
)

// consoleHeaderEntry describes one entry of the console-header table
// (spec.md §6): a fixed-size copier/loader header some ROM dump
// conventions prepend, detected by file extension and a size/stride
// relationship with the file's total length.
type consoleHeaderEntry struct {
	HeaderSize int
	Stride     int
	Name       string
}

// consoleHeaderTable maps a lowercase file extension (without the dot) to
// its console-header convention, spec.md §6.
var consoleHeaderTable = map[string]consoleHeaderEntry{
	"nes": {HeaderSize: 16, Stride: 1024, Name: "iNES"},
	"fds": {HeaderSize: 16, Stride: 65500, Name: "fwNES"},
	"lnx": {HeaderSize: 64, Stride: 1024, Name: "LNX"},
	"sfc": {HeaderSize: 512, Stride: 262144, Name: "SNES copier"},
	"smc": {HeaderSize: 512, Stride: 262144, Name: "SNES copier"},
	"swc": {HeaderSize: 512, Stride: 262144, Name: "SNES copier"},
	"fig": {HeaderSize: 512, Stride: 262144, Name: "SNES copier"},
}

func consoleHeaderFor(name string) (consoleHeaderEntry, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	entry, ok := consoleHeaderTable[ext]
	return entry, ok
}

// splitConsoleHeader implements spec.md §4.4's remove_header/add_header
// options. It returns the byte range the codec should actually operate on,
// along with bookkeeping needed to reassemble the final output:
//   - strippedHeader is non-nil when a real header was split off source;
//     the caller must prepend it back onto the apply result.
//   - addedHeaderSize is non-zero when a synthetic zero-filled header was
//     prepended before applying; the caller must strip that many bytes off
//     the front of the apply result instead.
func splitConsoleHeader(source []byte, sourceName string, opts ApplyOptions) (body, strippedHeader []byte, addedHeaderSize int, err error) {
	entry, ok := consoleHeaderFor(sourceName)
	if !ok {
		return source, nil, 0, nil
	}

	if opts.RemoveHeader {
		rest := len(source) - entry.HeaderSize
		if rest >= 0 && entry.Stride > 0 && rest%entry.Stride == 0 {
			return source[entry.HeaderSize:], source[:entry.HeaderSize], 0, nil
		}
		return source, nil, 0, nil
	}

	if opts.AddHeader {
		if entry.Stride > 0 && len(source)%entry.Stride == 0 {
			padded := make([]byte, entry.HeaderSize+len(source))
			copy(padded[entry.HeaderSize:], source)
			return padded, nil, entry.HeaderSize, nil
		}
		return source, nil, 0, nil
	}

	return source, nil, 0, nil
}
