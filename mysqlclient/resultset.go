package mysqlclient

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/brindlecore/reactor/asyncerr"
)

// ColumnDef describes one result-set column (spec §3 PreparedStatement).
type ColumnDef struct {
	Name    string
	Table   string
	Type    byte
	Charset uint16
	Flags   uint16
	Decimals byte
}

// Row is one decoded result row, column values in column order. NULL
// values are represented as a nil entry.
type Row []any

// ResultSet is the outcome of a query or statement execute: either a
// column/row result set, or an OK-packet-style affected-rows/insert-id
// result (spec §4.5 "Result set parsing").
type ResultSet struct {
	Columns      []ColumnDef
	Rows         []Row
	AffectedRows uint64
	InsertID     uint64
	Warnings     uint16
}

func parseErrPacket(b []byte, offset int) error {
	if len(b) < offset+3 || b[offset] != errPacketHeader {
		return asyncerr.New(asyncerr.KindProtocol, "malformed ERR packet")
	}
	code := binary.LittleEndian.Uint16(b[offset+1 : offset+3])
	rest := b[offset+3:]
	state := ""
	if len(rest) > 0 && rest[0] == '#' && len(rest) >= 6 {
		state = string(rest[1:6])
		rest = rest[6:]
	}
	return &asyncerr.SQLError{Code: code, SQLState: state, Message: string(rest)}
}

type okPacket struct {
	affectedRows uint64
	insertID     uint64
	statusFlags  uint16
	warnings     uint16
}

func parseOKPacket(b []byte) (*okPacket, error) {
	if len(b) < 1 {
		return nil, asyncerr.New(asyncerr.KindProtocol, "empty OK packet")
	}
	rest := b[1:]
	affected, n, ok := readLenencInt(rest)
	if !ok {
		return nil, asyncerr.New(asyncerr.KindProtocol, "malformed OK packet: affected rows")
	}
	rest = rest[n:]
	insertID, n, ok := readLenencInt(rest)
	if !ok {
		return nil, asyncerr.New(asyncerr.KindProtocol, "malformed OK packet: insert id")
	}
	rest = rest[n:]
	if len(rest) < 4 {
		return &okPacket{affectedRows: affected, insertID: insertID}, nil
	}
	status := binary.LittleEndian.Uint16(rest[0:2])
	warnings := binary.LittleEndian.Uint16(rest[2:4])
	return &okPacket{affectedRows: affected, insertID: insertID, statusFlags: status, warnings: warnings}, nil
}

// readResultSet consumes a full "column-count -> column defs -> row packets
// -> EOF/OK terminator" sequence per §4.5. firstPacket is the packet
// already read that contains the column count.
func (c *Connection) readResultSet(firstPacket []byte, binaryRows bool) (*ResultSet, error) {
	if len(firstPacket) > 0 && firstPacket[0] == okPacketHeader {
		ok, err := parseOKPacket(firstPacket)
		if err != nil {
			return nil, err
		}
		return &ResultSet{AffectedRows: ok.affectedRows, InsertID: ok.insertID, Warnings: ok.warnings}, nil
	}
	if len(firstPacket) > 0 && firstPacket[0] == errPacketHeader {
		return nil, parseErrPacket(firstPacket, 0)
	}

	colCount, _, ok := readLenencInt(firstPacket)
	if !ok {
		return nil, asyncerr.New(asyncerr.KindProtocol, "malformed column-count packet")
	}

	cols := make([]ColumnDef, 0, colCount)
	for i := uint64(0); i < colCount; i++ {
		pkt, err := c.pkt.readPacket()
		if err != nil {
			return nil, err
		}
		col, err := parseColumnDef(pkt)
		if err != nil {
			return nil, err
		}
		cols = append(cols, *col)
	}

	if c.capabilities&capDeprecateEOF == 0 {
		if _, err := c.pkt.readPacket(); err != nil { // EOF after column defs
			return nil, err
		}
	}

	var rows []Row
	for {
		pkt, err := c.pkt.readPacket()
		if err != nil {
			return nil, err
		}
		if isEOFOrOK(pkt, c.capabilities) {
			break
		}
		if len(pkt) > 0 && pkt[0] == errPacketHeader {
			return nil, parseErrPacket(pkt, 0)
		}
		var row Row
		if binaryRows {
			row, err = decodeBinaryRow(pkt, cols)
		} else {
			row, err = decodeTextRow(pkt, cols)
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	return &ResultSet{Columns: cols, Rows: rows}, nil
}

func isEOFOrOK(pkt []byte, caps uint32) bool {
	if len(pkt) == 0 {
		return false
	}
	if caps&capDeprecateEOF != 0 {
		return pkt[0] == okPacketHeader
	}
	return pkt[0] == eofPacketHeader && len(pkt) < 9
}

func parseColumnDef(b []byte) (*ColumnDef, error) {
	_, rest, ok := readLenencStr(b) // catalog
	if !ok {
		return nil, asyncerr.New(asyncerr.KindProtocol, "malformed column definition")
	}
	var schema, table, origTable, name, origName []byte
	schema, rest, ok = readLenencStr(rest)
	if !ok {
		return nil, asyncerr.New(asyncerr.KindProtocol, "malformed column definition")
	}
	table, rest, ok = readLenencStr(rest)
	if !ok {
		return nil, asyncerr.New(asyncerr.KindProtocol, "malformed column definition")
	}
	origTable, rest, ok = readLenencStr(rest)
	if !ok {
		return nil, asyncerr.New(asyncerr.KindProtocol, "malformed column definition")
	}
	name, rest, ok = readLenencStr(rest)
	if !ok {
		return nil, asyncerr.New(asyncerr.KindProtocol, "malformed column definition")
	}
	origName, rest, ok = readLenencStr(rest)
	if !ok {
		return nil, asyncerr.New(asyncerr.KindProtocol, "malformed column definition")
	}
	_ = schema
	_ = origTable
	_ = origName

	fixedLen, n, ok := readLenencInt(rest) // length of fixed fields, always 0x0c
	if !ok {
		return nil, asyncerr.New(asyncerr.KindProtocol, "malformed column definition")
	}
	rest = rest[n:]
	_ = fixedLen
	if len(rest) < 10 {
		return nil, asyncerr.New(asyncerr.KindProtocol, "malformed column definition")
	}
	charset := binary.LittleEndian.Uint16(rest[0:2])
	_ = binary.LittleEndian.Uint32(rest[2:6]) // column length
	colType := rest[6]
	flags := binary.LittleEndian.Uint16(rest[7:9])
	decimals := rest[9]

	return &ColumnDef{
		Name:     string(name),
		Table:    string(table),
		Type:     colType,
		Charset:  charset,
		Flags:    flags,
		Decimals: decimals,
	}, nil
}

// readLenencStr is readLenencString with a 3-return signature convenient
// for the column-definition parser's chained reads.
func readLenencStr(b []byte) ([]byte, []byte, bool) {
	s, n, ok := readLenencString(b)
	if !ok {
		return nil, nil, false
	}
	return s, b[n:], true
}

func decodeTextRow(pkt []byte, cols []ColumnDef) (Row, error) {
	row := make(Row, len(cols))
	rest := pkt
	for i := range cols {
		if len(rest) > 0 && rest[0] == 0xfb {
			row[i] = nil
			rest = rest[1:]
			continue
		}
		s, n, ok := readLenencString(rest)
		if !ok {
			return nil, asyncerr.New(asyncerr.KindProtocol, "malformed text row")
		}
		row[i] = string(s)
		rest = rest[n:]
	}
	return row, nil
}

func decodeBinaryRow(pkt []byte, cols []ColumnDef) (Row, error) {
	if len(pkt) < 1 || pkt[0] != 0x00 {
		return nil, asyncerr.New(asyncerr.KindProtocol, "malformed binary row header")
	}
	nullBitmapLen := (len(cols) + 7 + 2) / 8
	if len(pkt) < 1+nullBitmapLen {
		return nil, asyncerr.New(asyncerr.KindProtocol, "truncated binary row null bitmap")
	}
	nullBitmap := pkt[1 : 1+nullBitmapLen]
	rest := pkt[1+nullBitmapLen:]

	isNull := func(i int) bool {
		bytePos := (i + 2) / 8
		bitPos := uint((i + 2) % 8)
		return nullBitmap[bytePos]&(1<<bitPos) != 0
	}

	row := make(Row, len(cols))
	for i, col := range cols {
		if isNull(i) {
			row[i] = nil
			continue
		}
		v, n, err := decodeBinaryValue(rest, col.Type)
		if err != nil {
			return nil, err
		}
		row[i] = v
		rest = rest[n:]
	}
	return row, nil
}

func decodeBinaryValue(b []byte, typ byte) (any, int, error) {
	switch typ {
	case typeTiny:
		if len(b) < 1 {
			return nil, 0, asyncerr.New(asyncerr.KindProtocol, "truncated tinyint")
		}
		return int64(int8(b[0])), 1, nil
	case typeShort, typeYear:
		if len(b) < 2 {
			return nil, 0, asyncerr.New(asyncerr.KindProtocol, "truncated smallint")
		}
		return int64(int16(binary.LittleEndian.Uint16(b))), 2, nil
	case typeLong, typeInt24:
		if len(b) < 4 {
			return nil, 0, asyncerr.New(asyncerr.KindProtocol, "truncated int")
		}
		return int64(int32(binary.LittleEndian.Uint32(b))), 4, nil
	case typeLongLong:
		if len(b) < 8 {
			return nil, 0, asyncerr.New(asyncerr.KindProtocol, "truncated bigint")
		}
		return int64(binary.LittleEndian.Uint64(b)), 8, nil
	case typeFloat:
		if len(b) < 4 {
			return nil, 0, asyncerr.New(asyncerr.KindProtocol, "truncated float")
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), 4, nil
	case typeDouble:
		if len(b) < 8 {
			return nil, 0, asyncerr.New(asyncerr.KindProtocol, "truncated double")
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), 8, nil
	case typeVarChar, typeVarString, typeString, typeBlob, typeDecimal:
		s, n, ok := readLenencString(b)
		if !ok {
			return nil, 0, asyncerr.New(asyncerr.KindProtocol, "truncated string value")
		}
		return string(s), n, nil
	case typeDate, typeDateTime, typeTimestamp:
		return decodeBinaryTemporal(b)
	default:
		s, n, ok := readLenencString(b)
		if !ok {
			return nil, 0, asyncerr.New(asyncerr.KindProtocol, fmt.Sprintf("unsupported column type 0x%02x", typ))
		}
		return string(s), n, nil
	}
}

func decodeBinaryTemporal(b []byte) (any, int, error) {
	if len(b) < 1 {
		return nil, 0, asyncerr.New(asyncerr.KindProtocol, "truncated temporal value")
	}
	length := int(b[0])
	if len(b) < 1+length {
		return nil, 0, asyncerr.New(asyncerr.KindProtocol, "truncated temporal value")
	}
	if length == 0 {
		return "0000-00-00", 1, nil
	}
	data := b[1 : 1+length]
	year := binary.LittleEndian.Uint16(data[0:2])
	month, day := data[2], data[3]
	s := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	if length > 4 {
		hour, min, sec := data[4], data[5], data[6]
		s += fmt.Sprintf(" %02d:%02d:%02d", hour, min, sec)
	}
	return s, 1 + length, nil
}
