// Package proxy implements the optional bus backend that dials a local
// QUIC endpoint exposed by a system daemon owning the physical chip,
// instead of talking to the device node directly (spec.md §6's
// "optional proxy to a system daemon"). It multiplexes the same
// (command, payload) datagram RPCs pkg/bus.Bus describes over a single
// bidirectional QUIC stream, the way the teacher's QUICChannel carries
// DNP3 link frames over one.
package proxy

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"avaneesh/chip-updater/pkg/bus"
)

// opcode identifies which bus.Bus method an RPC frame carries.
type opcode uint8

const (
	opWrite opcode = 0
	opRead  opcode = 1
	opError opcode = 2
)

const respBit = opcode(0x80)

// frame is the wire shape of one RPC: opcode(1) || cmd(4 LE) || len(4 LE) || payload(len).
// Successful responses reuse the same layout with cmd echoed back and
// the request opcode's high bit set; len is 0 for writes, or the length
// of the returned payload for reads. A failure is answered with an
// opError frame (high bit clear) whose payload is the error string.
const frameHeaderSize = 1 + 4 + 4

func writeFrame(w io.Writer, op opcode, cmd uint32, payload []byte) error {
	header := make([]byte, frameHeaderSize)
	header[0] = byte(op)
	binary.LittleEndian.PutUint32(header[1:5], cmd)
	binary.LittleEndian.PutUint32(header[5:9], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (op opcode, cmd uint32, payload []byte, err error) {
	header := make([]byte, frameHeaderSize)
	if _, err = io.ReadFull(r, header); err != nil {
		return 0, 0, nil, err
	}
	op = opcode(header[0])
	cmd = binary.LittleEndian.Uint32(header[1:5])
	length := binary.LittleEndian.Uint32(header[5:9])
	if length == 0 {
		return op, cmd, nil, nil
	}
	payload = make([]byte, length)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, 0, nil, err
	}
	return op, cmd, payload, nil
}

// Client is a bus.Bus backed by a single QUIC stream to a proxy daemon.
// One RPC is in flight at a time, matching the chip's own half-duplex
// contract: Read/Write are never called concurrently by transport.Call.
type Client struct {
	conn   *quic.Conn
	stream *quic.Stream
	mu     sync.Mutex
}

// Dial connects to a proxy daemon at address ("host:port") and opens
// the single RPC stream used for the session's lifetime.
func Dial(ctx context.Context, address string) (*Client, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", "0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("proxy: resolve local address: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("proxy: open local socket: %w", err)
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("proxy: resolve %s: %w", address, err)
	}

	tlsConfig := clientTLSConfig()
	conn, err := quic.Dial(ctx, udpConn, remoteAddr, tlsConfig, nil)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("proxy: dial %s: %w", address, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("proxy: open stream: %w", err)
	}

	return &Client{conn: conn, stream: stream}, nil
}

// Write implements bus.Bus by sending a write RPC and waiting for the
// daemon's status frame.
func (c *Client) Write(cmd uint32, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := writeFrame(c.stream, opWrite, cmd, buf); err != nil {
		return fmt.Errorf("proxy: write request: %w", err)
	}
	op, _, payload, err := readFrame(c.stream)
	if err != nil {
		return fmt.Errorf("proxy: write response: %w", err)
	}
	if op == opError {
		return errors.New(string(payload))
	}
	if op != opWrite|respBit {
		return fmt.Errorf("proxy: unexpected response opcode %#x for write", op)
	}
	return nil
}

// Read implements bus.Bus by sending a read RPC (buf's capacity is the
// requested length) and copying the daemon's reply into buf.
func (c *Client) Read(cmd uint32, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := make([]byte, 4)
	binary.LittleEndian.PutUint32(req, uint32(len(buf)))
	if err := writeFrame(c.stream, opRead, cmd, req); err != nil {
		return fmt.Errorf("proxy: read request: %w", err)
	}
	op, _, payload, err := readFrame(c.stream)
	if err != nil {
		return fmt.Errorf("proxy: read response: %w", err)
	}
	if op == opError {
		return errors.New(string(payload))
	}
	if op != opRead|respBit {
		return fmt.Errorf("proxy: unexpected response opcode %#x for read", op)
	}
	n := copy(buf, payload)
	if n < len(buf) {
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
	}
	return nil
}

// Close tears down the RPC stream and the underlying QUIC connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		c.stream.Close()
	}
	if c.conn != nil {
		return c.conn.CloseWithError(0, "client closed")
	}
	return nil
}

var _ bus.Bus = (*Client)(nil)

func clientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"chip-bus-proxy"},
	}
}

// selfSignedTLSConfig generates an ephemeral self-signed certificate for
// the daemon side, mirroring the teacher's generateTLSConfig.
func selfSignedTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"chip-bus-proxy"},
	}, nil
}
