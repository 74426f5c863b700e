package mysqlclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/brindlecore/reactor/asyncerr"
	"github.com/brindlecore/reactor/loop"
	"github.com/brindlecore/reactor/promise"
)

// ConnState is the connection lifecycle state (spec §4.5).
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateHandshaking
	StateAuthenticated
	StateIdle
	StateCommandInFlight
	StateClosed
	StateErrored
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateAuthenticated:
		return "authenticated"
	case StateIdle:
		return "idle"
	case StateCommandInFlight:
		return "command_in_flight"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Config configures a connection (spec §6 "Pool"/"MySQL client"). LoadConfig
// decodes it from YAML, grounded on JeelKantaria-db-bouncer/internal/config/
// config.go's approach to pool/tenant configuration.
type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	Database       string        `yaml:"database"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	SocketTimeout  time.Duration `yaml:"socket_timeout"`
	TLS            *tls.Config   `yaml:"-"`
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Connection speaks the binary wire protocol over one socket, serializing
// commands (spec §4.5 "Commands are serialized"). It is driven by an
// owning *loop.Loop: every blocking socket read/write happens on an
// offloaded goroutine via loop.Promisify, and every public method returns a
// *promise.Promise that settles on the loop goroutine.
type Connection struct {
	loop   *loop.Loop
	cfg    Config
	conn   net.Conn
	pkt    *packetConn
	logger loop.Logger

	mu            sync.Mutex
	state         ConnState
	capabilities  uint32
	charset       byte
	autocommit    bool
	inTransaction bool
	isolation     IsolationLevel
	savepoints    []string

	statements map[uint32]*PreparedStatement
	nextStmtID uint32

	cmdMu sync.Mutex // serializes commands on this connection, FIFO by blocking acquire
}

// Connect dials cfg.addr(), performs the handshake, and returns a promise
// of the ready *Connection.
func Connect(l *loop.Loop, cfg Config) *promise.Promise {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.SocketTimeout <= 0 {
		cfg.SocketTimeout = 30 * time.Second
	}

	_, p := l.SubmitOp(func(ctx context.Context) (any, error) {
		d := net.Dialer{Timeout: cfg.ConnectTimeout}
		conn, err := d.DialContext(ctx, "tcp", cfg.addr())
		if err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindTransport, "dial mysql server", err)
		}

		c := &Connection{
			loop:       l,
			cfg:        cfg,
			conn:       conn,
			pkt:        newPacketConn(conn),
			logger:     l.Logger(),
			state:      StateHandshaking,
			autocommit: true,
			statements: make(map[uint32]*PreparedStatement),
		}

		if err := c.handshake(); err != nil {
			conn.Close()
			c.state = StateErrored
			return nil, err
		}

		c.state = StateIdle
		return c, nil
	})
	return p
}

// State reports the connection's current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Close sends COM_QUIT and closes the socket.
func (c *Connection) Close() *promise.Promise {
	_, p := c.loop.SubmitOp(func(ctx context.Context) (any, error) {
		c.cmdMu.Lock()
		defer c.cmdMu.Unlock()
		c.pkt.resetSeq()
		_ = c.pkt.writePacket([]byte{comQuit})
		err := c.conn.Close()
		c.setState(StateClosed)
		return nil, err
	})
	return p
}

// handshake performs the server greeting + client response exchange (spec
// §4.5: "read server greeting packet, send client handshake response
// honoring requested capabilities"). Runs on the offloaded goroutine
// already established by Connect.
func (c *Connection) handshake() error {
	c.pkt.resetSeq()
	greeting, err := c.pkt.readPacket()
	if err != nil {
		return err
	}
	if len(greeting) > 0 && greeting[0] == errPacketHeader {
		return parseErrPacket(greeting, 0)
	}

	hs, err := parseHandshakeV10(greeting)
	if err != nil {
		return err
	}

	clientCaps := defaultClientCapabilities()
	if c.cfg.Database != "" {
		clientCaps |= capConnectWithDB
	}
	serverCaps := hs.capabilities
	useCaps := clientCaps & serverCaps

	authResponse, err := computeAuthResponse(hs.authMethod, []byte(c.cfg.Password), hs.authPluginData)
	if err != nil {
		return err
	}

	resp := buildHandshakeResponse41(useCaps, c.cfg.User, authResponse, c.cfg.Database, hs.authMethod)
	if err := c.pkt.writePacket(resp); err != nil {
		return err
	}

	reply, err := c.pkt.readPacket()
	if err != nil {
		return err
	}
	if len(reply) == 0 {
		return asyncerr.New(asyncerr.KindProtocol, "empty handshake reply")
	}
	switch reply[0] {
	case okPacketHeader:
		c.capabilities = useCaps
		return nil
	case errPacketHeader:
		return parseErrPacket(reply, 0)
	default:
		// auth-switch-request or caching_sha2 fast/full-auth continuation;
		// a complete implementation negotiates further here. This
		// connection supports the common case (native/caching_sha2 fast
		// auth succeeding on the first response) and surfaces anything
		// else as a protocol error rather than guessing at server intent.
		return asyncerr.New(asyncerr.KindProtocol, "unsupported authentication continuation")
	}
}

type handshakeV10 struct {
	capabilities   uint32
	authPluginData []byte
	authMethod     AuthMethod
	charset        byte
}

func parseHandshakeV10(b []byte) (*handshakeV10, error) {
	if len(b) < 1 || b[0] != protocolVersion {
		return nil, asyncerr.New(asyncerr.KindProtocol, "unsupported protocol version")
	}
	rest := b[1:]
	_, rest, ok := readNullTerminatedString(rest) // server version
	if !ok || len(rest) < 4+8+1+2 {
		return nil, asyncerr.New(asyncerr.KindProtocol, "truncated handshake packet")
	}
	rest = rest[4:] // connection id
	authData := append([]byte(nil), rest[:8]...)
	rest = rest[8+1:] // salt part 1 + filler
	capLow := uint32(rest[0]) | uint32(rest[1])<<8
	charset := rest[2]
	rest = rest[3:] // capability_flags_1(2) + character_set(1)
	if len(rest) < 2 {
		return nil, asyncerr.New(asyncerr.KindProtocol, "truncated handshake packet")
	}
	rest = rest[2:] // status flags
	if len(rest) < 2 {
		return nil, asyncerr.New(asyncerr.KindProtocol, "truncated handshake packet")
	}
	capHigh := uint32(rest[0]) | uint32(rest[1])<<8
	capabilities := capLow | (capHigh << 16)
	rest = rest[2:]

	var authLen int
	if capabilities&capPluginAuth != 0 {
		if len(rest) < 1 {
			return nil, asyncerr.New(asyncerr.KindProtocol, "truncated handshake packet")
		}
		authLen = int(rest[0])
		rest = rest[1:]
	} else {
		rest = rest[1:]
	}
	if len(rest) < 10 {
		return nil, asyncerr.New(asyncerr.KindProtocol, "truncated handshake packet")
	}
	rest = rest[10:] // reserved

	if capabilities&capSecureConnection != 0 {
		n := authLen - 8
		if n < 13 {
			n = 13
		}
		if len(rest) < n {
			return nil, asyncerr.New(asyncerr.KindProtocol, "truncated handshake packet")
		}
		salt2 := rest[:n]
		if len(salt2) > 0 && salt2[len(salt2)-1] == 0 {
			salt2 = salt2[:len(salt2)-1]
		}
		authData = append(authData, salt2...)
		rest = rest[n:]
	}

	method := AuthMysqlNativePassword
	if capabilities&capPluginAuth != 0 {
		name, _, ok := readNullTerminatedString(rest)
		if ok && len(name) > 0 {
			method = AuthMethod(name)
		}
	}

	return &handshakeV10{
		capabilities:   capabilities,
		authPluginData: authData,
		authMethod:     method,
		charset:        charset,
	}, nil
}

func buildHandshakeResponse41(caps uint32, user string, authResponse []byte, database string, method AuthMethod) []byte {
	buf := make([]byte, 0, 64+len(user)+len(authResponse)+len(database))
	buf = appendUint32(buf, caps)
	buf = appendUint32(buf, maxPacketSize)
	buf = append(buf, 0x21) // utf8mb4_general_ci of a sort; charset negotiation kept minimal
	buf = append(buf, make([]byte, 23)...)
	buf = append(buf, []byte(user)...)
	buf = append(buf, 0)

	if caps&capPluginAuthLenencClientData != 0 {
		buf = appendLenencString(buf, authResponse)
	} else {
		buf = append(buf, byte(len(authResponse)))
		buf = append(buf, authResponse...)
	}

	if caps&capConnectWithDB != 0 {
		buf = append(buf, []byte(database)...)
		buf = append(buf, 0)
	}
	if caps&capPluginAuth != 0 {
		buf = append(buf, []byte(method)...)
		buf = append(buf, 0)
	}
	return buf
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
