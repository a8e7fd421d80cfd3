package proxy

import (
	"context"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"

	"avaneesh/chip-updater/internal/logger"
	"avaneesh/chip-updater/pkg/bus"
)

// Server is the daemon side of the proxy: it owns the physical chip's
// bus.Bus and answers read/write RPCs from one or more Clients over
// QUIC, the role the teacher's QUICChannel plays in server mode.
type Server struct {
	listener *quic.Listener
	conn     net.PacketConn
	device   bus.Bus
	log      logger.Logger
}

// Listen starts a Server on address, forwarding every RPC it receives
// to device. The caller owns device's lifetime; Server.Close does not
// close it.
func Listen(address string, device bus.Bus, log logger.Logger) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("proxy: resolve %s: %w", address, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("proxy: listen on %s: %w", address, err)
	}

	tlsConfig, err := selfSignedTLSConfig()
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("proxy: generate TLS config: %w", err)
	}

	listener, err := quic.Listen(udpConn, tlsConfig, nil)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("proxy: create QUIC listener: %w", err)
	}

	return &Server{listener: listener, conn: udpConn, device: device, log: logger.OrNoOp(log)}, nil
}

// Serve accepts connections until ctx is cancelled or Close is called,
// handling each accepted stream synchronously: the chip it proxies is
// itself half-duplex, so there is no benefit to servicing streams
// concurrently.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("proxy: accept: %w", err)
		}
		s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn *quic.Conn) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return
	}
	defer stream.Close()

	for {
		op, cmd, payload, err := readFrame(stream)
		if err != nil {
			return
		}
		switch op {
		case opWrite:
			if werr := s.device.Write(cmd, payload); werr != nil {
				s.log.Warn("proxy: device write cmd=%#x failed: %v", cmd, werr)
				writeFrame(stream, opError, cmd, []byte(werr.Error()))
				continue
			}
			writeFrame(stream, opWrite|respBit, cmd, nil)

		case opRead:
			if len(payload) < 4 {
				writeFrame(stream, opError, cmd, []byte("proxy: malformed read request"))
				continue
			}
			want := int(leUint32(payload))
			buf := make([]byte, want)
			if rerr := s.device.Read(cmd, buf); rerr != nil {
				s.log.Warn("proxy: device read cmd=%#x failed: %v", cmd, rerr)
				writeFrame(stream, opError, cmd, []byte(rerr.Error()))
				continue
			}
			writeFrame(stream, opRead|respBit, cmd, buf)

		default:
			writeFrame(stream, opError, cmd, []byte("proxy: unknown opcode"))
		}
	}
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Close shuts down the listener and its underlying socket.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.conn.Close()
	return err
}
