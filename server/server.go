package server

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/match"
	"github.com/tidwall/redcon"
	"go.uber.org/zap"

	"github.com/luoyjx/lwwset/snapshot"
	"github.com/luoyjx/lwwset/storage"
)

// ErrServerClosed is returned by Start on a closed server.
var ErrServerClosed = errors.New("server closed")

// Config holds server configuration
type Config struct {
	SnapshotFormat  snapshot.Format
	MaxSnapshotSize int
	Logger          *zap.Logger
}

// Server speaks the Redis protocol in front of a store of LWW element sets.
type Server struct {
	store  *storage.Store
	codec  *snapshot.Codec
	format snapshot.Format
	logger *zap.Logger

	mu     sync.Mutex
	srv    *redcon.Server
	addr   string
	closed bool
}

// New creates a server for store. It does not listen until Start is called.
func New(store *storage.Store, cfg Config) *Server {
	if cfg.SnapshotFormat == 0 {
		cfg.SnapshotFormat = snapshot.FormatBinary
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Server{
		store:  store,
		codec:  snapshot.NewCodec(cfg.MaxSnapshotSize),
		format: cfg.SnapshotFormat,
		logger: cfg.Logger,
	}
}

// Start listens on addr and serves connections in the background. It returns
// once the listener is bound.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if s.srv != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	srv := redcon.NewServer(addr, s.handleCommand, s.handleConnect, s.handleDisconnect)
	s.srv = srv
	s.mu.Unlock()

	signal := make(chan error, 1)
	go func() {
		if err := srv.ListenServeAndSignal(signal); err != nil {
			s.logger.Error("redis protocol server stopped", zap.Error(err))
		}
	}()

	if err := <-signal; err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}

	s.mu.Lock()
	s.addr = srv.Addr().String()
	s.mu.Unlock()

	s.logger.Info("listening", zap.String("addr", s.Addr()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addr
}

// Close stops the listener and closes client connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.srv == nil {
		return nil
	}
	if err := s.srv.Close(); err != nil {
		return errors.Wrap(err, "failed to close listener")
	}
	return nil
}

func (s *Server) handleConnect(conn redcon.Conn) bool {
	s.logger.Debug("client connected", zap.String("remote", conn.RemoteAddr()))
	return true
}

func (s *Server) handleDisconnect(conn redcon.Conn, err error) {
	s.logger.Debug("client disconnected", zap.String("remote", conn.RemoteAddr()), zap.Error(err))
}

// handleCommand processes Redis commands
func (s *Server) handleCommand(conn redcon.Conn, cmd redcon.Command) {
	name := strings.ToLower(string(cmd.Args[0]))
	args := cmd.Args[1:]

	switch name {
	case "ping":
		switch len(args) {
		case 0:
			conn.WriteString("PONG")
		case 1:
			conn.WriteBulk(args[0])
		default:
			writeArityError(conn, name)
		}

	case "echo":
		if len(args) != 1 {
			writeArityError(conn, name)
			return
		}
		conn.WriteBulk(args[0])

	case "info":
		info := fmt.Sprintf("# Server\r\nredis_version:7.0.0-lww\r\nredis_mode:standalone\r\n# Replica\r\nreplica_id:%s\r\n# Keyspace\r\nkeys:%d\r\n",
			s.store.ReplicaID(), len(s.store.Keys()))
		conn.WriteBulkString(info)

	case "client":
		// go-redis announces itself with CLIENT SETINFO
		conn.WriteString("OK")

	case "sadd":
		if len(args) < 2 {
			writeArityError(conn, name)
			return
		}
		conn.WriteInt64(s.store.SAdd(string(args[0]), toStrings(args[1:])...))

	case "srem":
		if len(args) < 2 {
			writeArityError(conn, name)
			return
		}
		conn.WriteInt64(s.store.SRem(string(args[0]), toStrings(args[1:])...))

	case "sismember":
		if len(args) != 2 {
			writeArityError(conn, name)
			return
		}
		if s.store.SIsMember(string(args[0]), string(args[1])) {
			conn.WriteInt(1)
		} else {
			conn.WriteInt(0)
		}

	case "smembers":
		if len(args) != 1 {
			writeArityError(conn, name)
			return
		}
		members := s.store.SMembers(string(args[0]))
		conn.WriteArray(len(members))
		for _, m := range members {
			conn.WriteBulkString(m)
		}

	case "scard":
		if len(args) != 1 {
			writeArityError(conn, name)
			return
		}
		conn.WriteInt64(s.store.SCard(string(args[0])))

	case "exists":
		if len(args) < 1 {
			writeArityError(conn, name)
			return
		}
		conn.WriteInt64(s.store.Exists(toStrings(args)...))

	case "keys":
		if len(args) != 1 {
			writeArityError(conn, name)
			return
		}
		pattern := string(args[0])
		var keys []string
		for _, k := range s.store.Keys() {
			if match.Match(k, pattern) {
				keys = append(keys, k)
			}
		}
		conn.WriteArray(len(keys))
		for _, k := range keys {
			conn.WriteBulkString(k)
		}

	case "lww.dump":
		if len(args) != 1 {
			writeArityError(conn, name)
			return
		}
		s.handleDump(conn, string(args[0]))

	case "lww.merge":
		if len(args) != 2 {
			writeArityError(conn, name)
			return
		}
		s.handleMerge(conn, string(args[0]), args[1])

	case "lww.compare":
		if len(args) != 2 {
			writeArityError(conn, name)
			return
		}
		s.handleCompare(conn, string(args[0]), args[1])

	case "lww.debug":
		if len(args) != 1 {
			writeArityError(conn, name)
			return
		}
		var buf bytes.Buffer
		ok, err := s.store.Display(&buf, string(args[0]))
		if err != nil {
			conn.WriteError("ERR " + err.Error())
			return
		}
		if !ok {
			conn.WriteNull()
			return
		}
		conn.WriteBulk(buf.Bytes())

	default:
		conn.WriteError(fmt.Sprintf("ERR unknown command '%s'", string(cmd.Args[0])))
	}
}

func (s *Server) handleDump(conn redcon.Conn, key string) {
	snap, ok := s.store.Snapshot(key)
	if !ok {
		conn.WriteNull()
		return
	}

	data, err := s.codec.Encode(snap, s.format)
	if err != nil {
		s.logger.Warn("failed to encode snapshot", zap.String("key", key), zap.Error(err))
		conn.WriteError("ERR " + err.Error())
		return
	}
	conn.WriteBulk(data)
}

func (s *Server) handleMerge(conn redcon.Conn, key string, data []byte) {
	snap, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Warn("rejected snapshot", zap.String("key", key), zap.Error(err))
		conn.WriteError("ERR " + err.Error())
		return
	}

	s.store.MergeSnapshot(key, snap)
	s.logger.Info("merged snapshot", zap.String("key", key), zap.String("peer", snap.ReplicaID))
	conn.WriteString("OK")
}

func (s *Server) handleCompare(conn redcon.Conn, key string, data []byte) {
	snap, err := s.codec.Decode(data)
	if err != nil {
		conn.WriteError("ERR " + err.Error())
		return
	}

	if s.store.Compare(key, snap) {
		conn.WriteInt(1)
	} else {
		conn.WriteInt(0)
	}
}

func writeArityError(conn redcon.Conn, name string) {
	conn.WriteError(fmt.Sprintf("ERR wrong number of arguments for '%s' command", name))
}

func toStrings(args [][]byte) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = string(a)
	}
	return out
}
