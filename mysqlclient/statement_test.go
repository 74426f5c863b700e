package mysqlclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBinaryParam_Types(t *testing.T) {
	typ, val := encodeBinaryParam(int64(42))
	assert.Equal(t, typeLongLong, typ)
	assert.Len(t, val, 8)

	typ, val = encodeBinaryParam(3.5)
	assert.Equal(t, typeDouble, typ)
	assert.Len(t, val, 8)

	typ, val = encodeBinaryParam(true)
	assert.Equal(t, typeTiny, typ)
	assert.Equal(t, []byte{1}, val)

	typ, val = encodeBinaryParam(false)
	assert.Equal(t, typeTiny, typ)
	assert.Equal(t, []byte{0}, val)

	typ, val = encodeBinaryParam("hi")
	assert.Equal(t, typeVarString, typ)
	s, _, ok := readLenencString(val)
	require.True(t, ok)
	assert.Equal(t, "hi", string(s))

	typ, val = encodeBinaryParam(nil)
	assert.Equal(t, typeNull, typ)
	assert.Nil(t, val)
}

func TestBuildExecutePacket_SetsNullBitmapForNilParams(t *testing.T) {
	stmt := &PreparedStatement{id: 7, paramCount: 2}
	buf := stmt.buildExecutePacket([]any{nil, int64(1)})

	// header: 1 (command) + 4 (stmt id) + 1 (cursor type) + 4 (iteration count) = 10
	nullBitmap := buf[10]
	assert.Equal(t, byte(1), nullBitmap&1, "first param is NULL so bit 0 should be set")
	assert.Equal(t, byte(0), (nullBitmap>>1)&1, "second param is not NULL")
	assert.Equal(t, byte(1), buf[11], "new-params-bound flag should be set")
}

func TestBuildExecutePacket_NoParamsOmitsBitmap(t *testing.T) {
	stmt := &PreparedStatement{id: 1, paramCount: 0}
	buf := stmt.buildExecutePacket(nil)
	assert.Len(t, buf, 10)
}

func TestBuildExecutePacket_CachesLastTypes(t *testing.T) {
	stmt := &PreparedStatement{id: 1, paramCount: 1}
	stmt.buildExecutePacket([]any{int64(1)})
	require.Len(t, stmt.lastTypes, 2)
	assert.Equal(t, typeLongLong, stmt.lastTypes[0])
}

func TestPreparedStatement_ExecuteRejectsWrongParamCount(t *testing.T) {
	stmt := &PreparedStatement{conn: &Connection{}, id: 1, paramCount: 2}
	_, err := stmt.doExecute([]any{int64(1)})
	assert.Error(t, err)
}

func TestPreparedStatement_ExecuteOnClosedStatementIsUsageError(t *testing.T) {
	stmt := &PreparedStatement{conn: &Connection{}, id: 1, closed: true}
	_, err := stmt.doExecute(nil)
	assert.Error(t, err)
}

func TestPreparedStatement_IDAndParamCount(t *testing.T) {
	stmt := &PreparedStatement{id: 9, paramCount: 3}
	assert.Equal(t, uint32(9), stmt.ID())
	assert.Equal(t, 3, stmt.ParamCount())
}
