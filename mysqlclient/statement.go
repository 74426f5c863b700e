package mysqlclient

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/brindlecore/reactor/asyncerr"
	"github.com/brindlecore/reactor/promise"
)

// PreparedStatement is a server-side parsed query (spec §3/§4.5): an id,
// param count, column metadata, and a client-side parameter encoder.
type PreparedStatement struct {
	conn       *Connection
	id         uint32
	paramCount int
	columns    []ColumnDef
	closed     bool

	lastTypes []byte // cached param type codes, reused when the binding shape matches
}

// ID returns the server-assigned statement id.
func (s *PreparedStatement) ID() uint32 { return s.id }

// ParamCount returns the number of bound parameters this statement expects.
func (s *PreparedStatement) ParamCount() int { return s.paramCount }

// Prepare sends COM_STMT_PREPARE and stores the returned statement id and
// metadata (spec §4.5 "Prepared statements").
func (c *Connection) Prepare(query string) *promise.Promise {
	_, p := c.loop.SubmitOp(func(ctx context.Context) (any, error) {
		return c.doPrepare(query)
	})
	return p
}

func (c *Connection) doPrepare(query string) (*PreparedStatement, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	c.setState(StateCommandInFlight)
	defer func() {
		if c.State() == StateCommandInFlight {
			c.setState(StateIdle)
		}
	}()

	c.pkt.resetSeq()
	payload := append([]byte{comStmtPrepare}, query...)
	if err := c.pkt.writePacket(payload); err != nil {
		c.setState(StateErrored)
		return nil, err
	}

	first, err := c.pkt.readPacket()
	if err != nil {
		c.setState(StateErrored)
		return nil, err
	}
	if len(first) > 0 && first[0] == errPacketHeader {
		return nil, parseErrPacket(first, 0)
	}
	if len(first) < 9 {
		return nil, asyncerr.New(asyncerr.KindProtocol, "malformed STMT_PREPARE_OK")
	}

	stmtID := binary.LittleEndian.Uint32(first[1:5])
	numCols := int(binary.LittleEndian.Uint16(first[5:7]))
	numParams := int(binary.LittleEndian.Uint16(first[7:9]))

	for i := 0; i < numParams; i++ {
		if _, err := c.pkt.readPacket(); err != nil { // param definitions
			return nil, err
		}
	}
	if numParams > 0 && c.capabilities&capDeprecateEOF == 0 {
		if _, err := c.pkt.readPacket(); err != nil {
			return nil, err
		}
	}

	cols := make([]ColumnDef, 0, numCols)
	for i := 0; i < numCols; i++ {
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
	if numCols > 0 && c.capabilities&capDeprecateEOF == 0 {
		if _, err := c.pkt.readPacket(); err != nil {
			return nil, err
		}
	}

	stmt := &PreparedStatement{conn: c, id: stmtID, paramCount: numParams, columns: cols}
	c.mu.Lock()
	c.statements[stmtID] = stmt
	c.mu.Unlock()
	return stmt, nil
}

// Execute sends COM_STMT_EXECUTE with a NULL bitmap and packed parameter
// values, re-using cached type codes when the binding shape matches the
// previous call (spec §4.5).
func (s *PreparedStatement) Execute(params ...any) *promise.Promise {
	_, p := s.conn.loop.SubmitOp(func(ctx context.Context) (any, error) {
		return s.doExecute(params)
	})
	return p
}

func (s *PreparedStatement) doExecute(params []any) (*ResultSet, error) {
	if s.closed {
		return nil, asyncerr.New(asyncerr.KindUsage, "executing a closed statement")
	}
	if len(params) != s.paramCount {
		return nil, asyncerr.New(asyncerr.KindUsage, fmt.Sprintf("expected %d params, got %d", s.paramCount, len(params)))
	}

	c := s.conn
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	c.setState(StateCommandInFlight)
	defer func() {
		if c.State() == StateCommandInFlight {
			c.setState(StateIdle)
		}
	}()

	payload := s.buildExecutePacket(params)
	c.pkt.resetSeq()
	if err := c.pkt.writePacket(payload); err != nil {
		c.setState(StateErrored)
		return nil, err
	}

	first, err := c.pkt.readPacket()
	if err != nil {
		c.setState(StateErrored)
		return nil, err
	}
	return c.readResultSet(first, true)
}

func (s *PreparedStatement) buildExecutePacket(params []any) []byte {
	buf := make([]byte, 0, 16+len(params)*8)
	buf = append(buf, comStmtExecute)
	buf = appendUint32(buf, s.id)
	buf = append(buf, 0x00) // cursor type: CURSOR_TYPE_NO_CURSOR
	buf = appendUint32(buf, 1) // iteration count

	if len(params) == 0 {
		return buf
	}

	nullBitmapLen := (len(params) + 7) / 8
	nullBitmap := make([]byte, nullBitmapLen)
	for i, v := range params {
		if v == nil {
			nullBitmap[i/8] |= 1 << uint(i%8)
		}
	}
	buf = append(buf, nullBitmap...)

	types := make([]byte, len(params)*2)
	var values []byte
	for i, v := range params {
		typ, val := encodeBinaryParam(v)
		types[i*2] = typ
		values = append(values, val...)
	}
	if string(types) == string(s.lastTypes) {
		buf = append(buf, 0) // new-params-bound-flag unset: server reuses the previous types
	} else {
		buf = append(buf, 1) // new-params-bound-flag
		buf = append(buf, types...)
	}
	buf = append(buf, values...)
	s.lastTypes = types
	return buf
}

func encodeBinaryParam(v any) (byte, []byte) {
	switch x := v.(type) {
	case nil:
		return typeNull, nil
	case int:
		return typeLongLong, appendInt64LE(int64(x))
	case int64:
		return typeLongLong, appendInt64LE(x)
	case int32:
		return typeLong, appendInt32LE(x)
	case float64:
		return typeDouble, appendFloat64LE(x)
	case float32:
		return typeFloat, appendFloat32LE(x)
	case bool:
		if x {
			return typeTiny, []byte{1}
		}
		return typeTiny, []byte{0}
	case string:
		return typeVarString, appendLenencString(nil, []byte(x))
	case []byte:
		return typeBlob, appendLenencString(nil, x)
	default:
		return typeVarString, appendLenencString(nil, []byte(fmt.Sprintf("%v", x)))
	}
}

func appendInt64LE(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

func appendInt32LE(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func appendFloat64LE(v float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return b
}

func appendFloat32LE(v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return b
}

// Close sends COM_STMT_CLOSE and frees the statement id (spec §4.5).
func (s *PreparedStatement) Close() *promise.Promise {
	_, p := s.conn.loop.SubmitOp(func(ctx context.Context) (any, error) {
		c := s.conn
		c.cmdMu.Lock()
		defer c.cmdMu.Unlock()
		c.pkt.resetSeq()
		payload := append([]byte{comStmtClose}, appendUint32(nil, s.id)...)
		err := c.pkt.writePacket(payload)
		s.closed = true
		c.mu.Lock()
		delete(c.statements, s.id)
		c.mu.Unlock()
		return nil, err
	})
	return p
}
