// Package announce implements C5: the single-shot protocol Alice uses to
// propose an RFC003 swap to Bob and receive back the SwapId Bob assigns,
// grounded in internal/node/stream_handler.go's stream-framing and
// request/ack shape but re-cut as a one-substream-per-announce exchange
// instead of a persistent duplex message channel.
package announce

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-varint"

	"github.com/klingon-exchange/swapd/internal/rfc003"
	"github.com/klingon-exchange/swapd/pkg/logging"
)

// ProtocolID identifies the announce protocol on the libp2p multistream
// negotiator.
const ProtocolID protocol.ID = "/comit/swap/announce/1.0.0"

// MaxFrameSize bounds a single announce frame; a SwapRequest/SwapAccept
// comfortably fits in a few hundred bytes, so this is a generous ceiling
// against a misbehaving peer rather than a tight budget.
const MaxFrameSize = 1024

// Timeout bounds the whole announce round trip: open substream, write the
// request, read the reply.
const Timeout = 20 * time.Second

var (
	// ErrAnnounceTimeout is returned when no reply arrives within Timeout.
	ErrAnnounceTimeout = errors.New("announce: timed out waiting for reply")
	// ErrFrameTooLarge is returned when a peer sends an oversized frame.
	ErrFrameTooLarge = errors.New("announce: frame exceeds maximum size")
)

// Request is what Alice sends to propose a swap.
type Request struct {
	SwapRequest rfc003.SwapRequest `json:"swap_request"`
	Digest      rfc003.SwapDigest  `json:"digest"`
}

// Reply is what Bob sends back: either an accepted SwapId and SwapAccept,
// or a decline with a human-readable reason.
type Reply struct {
	Accepted bool               `json:"accepted"`
	SwapId   rfc003.SwapId      `json:"swap_id,omitempty"`
	Accept   *rfc003.SwapAccept `json:"accept,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

// Handler decides how to respond to an inbound announce Request.
type Handler func(ctx context.Context, from peer.ID, req Request) Reply

// Host is the subset of a libp2p host this package needs, letting callers
// pass the real *node.Node wherever one is wired without an import cycle.
type Host interface {
	SetStreamHandler(protocol.ID, network.StreamHandler)
	RemoveStreamHandler(protocol.ID)
	NewStream(ctx context.Context, p peer.ID, pids ...protocol.ID) (network.Stream, error)
}

// Service registers the announce protocol handler and can send outbound
// announces.
type Service struct {
	host    Host
	handler Handler
	log     *logging.Logger
}

func NewService(host Host, handler Handler) *Service {
	return &Service{
		host:    host,
		handler: handler,
		log:     logging.GetDefault().Component("announce"),
	}
}

func (s *Service) Start() error {
	s.host.SetStreamHandler(ProtocolID, s.handleStream)
	return nil
}

func (s *Service) Stop() {
	s.host.RemoveStreamHandler(ProtocolID)
}

func (s *Service) handleStream(stream network.Stream) {
	defer stream.Close()

	remote := stream.Conn().RemotePeer()
	stream.SetDeadline(time.Now().Add(Timeout))

	reqBytes, err := readFrame(bufio.NewReader(stream))
	if err != nil {
		s.log.Warn("announce: failed to read request", "peer", remote, "error", err)
		return
	}

	var req Request
	if err := json.Unmarshal(reqBytes, &req); err != nil {
		s.log.Warn("announce: malformed request", "peer", remote, "error", err)
		return
	}

	reply := s.handler(context.Background(), remote, req)

	replyBytes, err := json.Marshal(reply)
	if err != nil {
		s.log.Error("announce: failed to marshal reply", "error", err)
		return
	}
	if err := writeFrame(stream, replyBytes); err != nil {
		s.log.Warn("announce: failed to write reply", "peer", remote, "error", err)
	}

	// Half-close our write side; this substream is single-use.
	stream.CloseWrite()
}

// Announce opens a fresh substream to peerID, sends req, and waits for a
// Reply or Timeout.
func (s *Service) Announce(ctx context.Context, peerID peer.ID, req Request) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	stream, err := s.host.NewStream(ctx, peerID, ProtocolID)
	if err != nil {
		return Reply{}, fmt.Errorf("announce: open stream: %w", err)
	}
	defer stream.Close()

	stream.SetDeadline(time.Now().Add(Timeout))

	reqBytes, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("announce: marshal request: %w", err)
	}
	if err := writeFrame(stream, reqBytes); err != nil {
		return Reply{}, fmt.Errorf("announce: write request: %w", err)
	}
	stream.CloseWrite()

	type result struct {
		reply Reply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		replyBytes, err := readFrame(bufio.NewReader(stream))
		if err != nil {
			done <- result{err: fmt.Errorf("announce: read reply: %w", err)}
			return
		}
		var reply Reply
		if err := json.Unmarshal(replyBytes, &reply); err != nil {
			done <- result{err: fmt.Errorf("announce: malformed reply: %w", err)}
			return
		}
		done <- result{reply: reply}
	}()

	select {
	case r := <-done:
		return r.reply, r.err
	case <-ctx.Done():
		return Reply{}, ErrAnnounceTimeout
	}
}

// readFrame reads one unsigned-varint-length-prefixed frame, mirroring
// original_source's announce substream framing (upgrade::read_one) rather
// than internal/node/stream_handler.go's fixed 4-byte big-endian prefix.
func readFrame(r *bufio.Reader) ([]byte, error) {
	length, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, length)
	if _, err := readFull(r, buf); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return buf, nil
}

func writeFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	prefix := varint.ToUvarint(uint64(len(data)))
	if _, err := w.Write(prefix); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
