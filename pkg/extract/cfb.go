package extract

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"
)

// cfbFile is a minimal reader for the Compound File Binary (OLE2) format,
// the container HWP5 documents are stored in. It parses just enough of
// the header, FAT, mini-FAT, and directory tree to locate and read a named
// stream by its storage path (e.g. "BodyText/Section0"). No library in
// the example corpus covers this container format (see DESIGN.md), so
// this is a hand-rolled reader scoped to what extractHWP needs.
type cfbFile struct {
	data           []byte
	sectorSize     int
	miniSectorSize int
	fat            []uint32
	miniFAT        []uint32
	miniStreamData []byte
	entries        []cfbEntry
	rootID         int
}

type cfbEntry struct {
	name          string
	objType       byte // 0=empty, 1=storage, 2=stream, 5=root storage
	left          int32
	right         int32
	child         int32
	startSector   uint32
	size          uint64
}

const (
	cfbFreeSect   = 0xFFFFFFFF
	cfbEndOfChain = 0xFFFFFFFE
	cfbFatSect    = 0xFFFFFFFD
	cfbDifSect    = 0xFFFFFFFC
	cfbNoStream   = 0xFFFFFFFF
	miniCutoff    = 4096
)

func openCFB(data []byte) (*cfbFile, error) {
	if len(data) < 512 {
		return nil, fmt.Errorf("cfb: file too small")
	}
	if string(data[0:4]) != "\xD0\xCF\x11\xE0" {
		return nil, fmt.Errorf("cfb: bad signature")
	}

	sectorShift := binary.LittleEndian.Uint16(data[30:32])
	miniSectorShift := binary.LittleEndian.Uint16(data[32:34])
	numFATSectors := binary.LittleEndian.Uint32(data[44:48])
	firstDirSector := binary.LittleEndian.Uint32(data[48:52])
	firstMiniFATSector := binary.LittleEndian.Uint32(data[60:64])
	numMiniFATSectors := binary.LittleEndian.Uint32(data[64:68])

	c := &cfbFile{
		data:           data,
		sectorSize:     1 << sectorShift,
		miniSectorSize: 1 << miniSectorShift,
	}

	// DIFAT: first 109 entries live in the header; chained DIFAT sectors
	// are not supported (sufficient for the small documents this extracts).
	var fatSectorIDs []uint32
	for i := 0; i < 109 && uint32(len(fatSectorIDs)) < numFATSectors; i++ {
		off := 76 + i*4
		id := binary.LittleEndian.Uint32(data[off : off+4])
		if id == cfbFreeSect {
			break
		}
		fatSectorIDs = append(fatSectorIDs, id)
	}

	c.fat = make([]uint32, 0, len(fatSectorIDs)*c.sectorSize/4)
	for _, sid := range fatSectorIDs {
		sec, err := c.sectorBytes(sid)
		if err != nil {
			return nil, err
		}
		for i := 0; i+4 <= len(sec); i += 4 {
			c.fat = append(c.fat, binary.LittleEndian.Uint32(sec[i:i+4]))
		}
	}

	dirBytes, err := c.readChain(firstDirSector, 0)
	if err != nil {
		return nil, fmt.Errorf("cfb: directory chain: %w", err)
	}
	c.parseDirectory(dirBytes)

	if numMiniFATSectors > 0 {
		miniFATBytes, err := c.readChain(firstMiniFATSector, 0)
		if err == nil {
			for i := 0; i+4 <= len(miniFATBytes); i += 4 {
				c.miniFAT = append(c.miniFAT, binary.LittleEndian.Uint32(miniFATBytes[i:i+4]))
			}
		}
	}

	if c.rootID >= 0 && c.rootID < len(c.entries) {
		root := c.entries[c.rootID]
		if root.size > 0 {
			c.miniStreamData, _ = c.readChain(root.startSector, root.size)
		}
	}

	return c, nil
}

func (c *cfbFile) sectorBytes(id uint32) ([]byte, error) {
	start := 512 + int(id)*c.sectorSize
	end := start + c.sectorSize
	if start < 0 || end > len(c.data) {
		return nil, fmt.Errorf("cfb: sector %d out of range", id)
	}
	return c.data[start:end], nil
}

// readChain follows a FAT sector chain starting at id, concatenating
// sector contents, truncated to size if size > 0.
func (c *cfbFile) readChain(id uint32, size uint64) ([]byte, error) {
	var out []byte
	seen := map[uint32]bool{}
	for id != cfbEndOfChain && id != cfbFreeSect {
		if seen[id] {
			return nil, fmt.Errorf("cfb: cyclic sector chain at %d", id)
		}
		seen[id] = true
		sec, err := c.sectorBytes(id)
		if err != nil {
			return nil, err
		}
		out = append(out, sec...)
		if int(id) >= len(c.fat) {
			break
		}
		id = c.fat[id]
	}
	if size > 0 && uint64(len(out)) > size {
		out = out[:size]
	}
	return out, nil
}

// readMiniChain follows a mini-FAT chain within the mini-stream.
func (c *cfbFile) readMiniChain(id uint32, size uint64) []byte {
	var out []byte
	seen := map[uint32]bool{}
	for id != cfbEndOfChain && id != cfbFreeSect {
		if seen[id] {
			break
		}
		seen[id] = true
		start := int(id) * c.miniSectorSize
		end := start + c.miniSectorSize
		if start < 0 || end > len(c.miniStreamData) {
			break
		}
		out = append(out, c.miniStreamData[start:end]...)
		if int(id) >= len(c.miniFAT) {
			break
		}
		id = c.miniFAT[id]
	}
	if size > 0 && uint64(len(out)) > size {
		out = out[:size]
	}
	return out
}

func (c *cfbFile) parseDirectory(dirBytes []byte) {
	c.rootID = -1
	const entrySize = 128
	for off := 0; off+entrySize <= len(dirBytes); off += entrySize {
		raw := dirBytes[off : off+entrySize]
		nameLen := int(binary.LittleEndian.Uint16(raw[64:66]))
		var name string
		if nameLen >= 2 {
			u16 := make([]uint16, 0, nameLen/2)
			for i := 0; i+2 <= nameLen-2; i += 2 {
				u16 = append(u16, binary.LittleEndian.Uint16(raw[i:i+2]))
			}
			name = string(utf16.Decode(u16))
		}
		objType := raw[66]
		left := int32(binary.LittleEndian.Uint32(raw[68:72]))
		right := int32(binary.LittleEndian.Uint32(raw[72:76]))
		child := int32(binary.LittleEndian.Uint32(raw[76:80]))
		startSector := binary.LittleEndian.Uint32(raw[116:120])
		size := binary.LittleEndian.Uint64(raw[120:128])

		entry := cfbEntry{
			name:        name,
			objType:     objType,
			left:        left,
			right:       right,
			child:       child,
			startSector: startSector,
			size:        size,
		}
		c.entries = append(c.entries, entry)
		if objType == 5 {
			c.rootID = len(c.entries) - 1
		}
	}
}

// Stream returns the decoded contents of the stream at storagePath (e.g.
// "BodyText/Section0"), searching the directory's red-black sibling tree
// under each named storage in turn.
func (c *cfbFile) Stream(storagePath string) ([]byte, error) {
	if c.rootID < 0 {
		return nil, fmt.Errorf("cfb: no root entry")
	}
	parts := strings.Split(storagePath, "/")
	currentID := c.entries[c.rootID].child

	for i, part := range parts {
		found := c.findSibling(currentID, part)
		if found < 0 {
			return nil, fmt.Errorf("cfb: %q not found", storagePath)
		}
		entry := c.entries[found]
		if i == len(parts)-1 {
			if entry.objType != 2 {
				return nil, fmt.Errorf("cfb: %q is not a stream", storagePath)
			}
			if entry.size < miniCutoff {
				return c.readMiniChain(entry.startSector, entry.size), nil
			}
			return c.readChain(entry.startSector, entry.size)
		}
		currentID = entry.child
	}
	return nil, fmt.Errorf("cfb: %q not found", storagePath)
}

// findSibling walks the binary sibling tree rooted at id looking for name.
func (c *cfbFile) findSibling(id int32, name string) int {
	for id != -1 && int(id) < len(c.entries) {
		entry := c.entries[id]
		switch {
		case entry.name == name:
			return int(id)
		case name < entry.name:
			id = entry.left
		default:
			id = entry.right
		}
	}
	return -1
}
