package mysqlclient

import (
	"context"

	"github.com/brindlecore/reactor/promise"
)

// Query sends COM_QUERY and parses the text-protocol result set (spec
// §4.5 "query").
func (c *Connection) Query(sql string) *promise.Promise {
	_, p := c.loop.SubmitOp(func(ctx context.Context) (any, error) {
		return c.doQuery(sql)
	})
	return p
}

func (c *Connection) doQuery(sql string) (*ResultSet, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	c.setState(StateCommandInFlight)
	defer func() {
		if c.State() == StateCommandInFlight {
			c.setState(StateIdle)
		}
	}()

	c.pkt.resetSeq()
	payload := append([]byte{comQuery}, sql...)
	if err := c.pkt.writePacket(payload); err != nil {
		c.setState(StateErrored)
		return nil, err
	}

	first, err := c.pkt.readPacket()
	if err != nil {
		c.setState(StateErrored)
		return nil, err
	}
	return c.readResultSet(first, false)
}

// Ping sends COM_PING and returns once the server replies OK.
func (c *Connection) Ping() *promise.Promise {
	_, p := c.loop.SubmitOp(func(ctx context.Context) (any, error) {
		c.cmdMu.Lock()
		defer c.cmdMu.Unlock()
		c.pkt.resetSeq()
		if err := c.pkt.writePacket([]byte{comPing}); err != nil {
			return nil, err
		}
		reply, err := c.pkt.readPacket()
		if err != nil {
			return nil, err
		}
		if len(reply) > 0 && reply[0] == errPacketHeader {
			return nil, parseErrPacket(reply, 0)
		}
		return nil, nil
	})
	return p
}
