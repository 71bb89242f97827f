/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package scan

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	protocolICMP      = 1
	maxICMPPacketSize = 1500
	defaultIdentMod   = 1 << 16

	// minimum IPv4 header plus the echo header quoted by an error message
	quotedEchoMinLen = 20 + 8
)

var identCounter atomic.Uint32

// ICMPProber sends ICMP echo requests over its own socket. Unprivileged mode
// uses datagram ICMP sockets (Linux ping_group_range, macOS); privileged mode
// uses a raw socket.
type ICMPProber struct {
	conn       *icmp.PacketConn
	privileged bool
	ident      int
	seq        uint16
}

var _ Prober = (*ICMPProber)(nil)

// NewICMPProber opens an ICMP socket.
func NewICMPProber(privileged bool) (*ICMPProber, error) {
	network := "udp4"
	if privileged {
		network = "ip4:icmp"
	}

	conn, err := icmp.ListenPacket(network, "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("failed to open %s socket: %w", network, err)
	}

	ident := int((uint32(os.Getpid()) + identCounter.Add(1)) % defaultIdentMod)

	return &ICMPProber{conn: conn, privileged: privileged, ident: ident}, nil
}

// ICMPFactory returns a ProberFactory producing ICMP probers.
func ICMPFactory(privileged bool) ProberFactory {
	return func() (Prober, error) {
		return NewICMPProber(privileged)
	}
}

func (p *ICMPProber) Probe(ctx context.Context, ip netip.Addr, payload []byte) (Echo, error) {
	if !ip.IsValid() || !ip.Is4() {
		return Echo{}, fmt.Errorf("%w: %s", ErrInvalidTarget, ip)
	}

	p.seq++
	seq := int(p.seq)

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: p.ident, Seq: seq, Data: payload},
	}

	wire, err := msg.Marshal(nil)
	if err != nil {
		return Echo{}, fmt.Errorf("failed to marshal echo request: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := p.conn.SetReadDeadline(deadline); err != nil {
			return Echo{}, err
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = p.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	start := time.Now()

	if _, err := p.conn.WriteTo(wire, p.destination(ip)); err != nil {
		return Echo{}, fmt.Errorf("failed to send echo to %s: %w", ip, err)
	}

	buf := make([]byte, maxICMPPacketSize)

	for {
		n, peer, err := p.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
					return Echo{}, ctxErr
				}

				return Echo{}, fmt.Errorf("%w: %s", ErrProbeTimeout, ip)
			}

			return Echo{}, err
		}

		reply, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil {
			continue
		}

		switch body := reply.Body.(type) {
		case *icmp.Echo:
			if reply.Type != ipv4.ICMPTypeEchoReply || !p.ours(body.ID, body.Seq, seq) {
				continue
			}

			return Echo{From: peerAddr(peer), RTT: time.Since(start)}, nil
		case *icmp.DstUnreach:
			if id, qseq, ok := quotedEcho(body.Data); ok && p.ours(id, qseq, seq) {
				return Echo{From: peerAddr(peer)}, fmt.Errorf("%w: %s", ErrDestinationUnreachable, ip)
			}
		}
	}
}

func (p *ICMPProber) Close() error {
	return p.conn.Close()
}

// ours matches a reply or a quoted request to the outstanding request. Raw
// sockets see every ICMP message on the host, so the identifier must match
// too. Datagram sockets get their echo identifier rewritten by the kernel
// and only receive their own traffic, so only the sequence is compared.
func (p *ICMPProber) ours(id, seq, want int) bool {
	if seq != want {
		return false
	}

	return !p.privileged || id == p.ident
}

func (p *ICMPProber) destination(ip netip.Addr) net.Addr {
	if p.privileged {
		return &net.IPAddr{IP: ip.AsSlice()}
	}

	return &net.UDPAddr{IP: ip.AsSlice()}
}

func peerAddr(peer net.Addr) netip.Addr {
	var raw net.IP

	switch a := peer.(type) {
	case *net.UDPAddr:
		raw = a.IP
	case *net.IPAddr:
		raw = a.IP
	default:
		return netip.Addr{}
	}

	addr, ok := netip.AddrFromSlice(raw)
	if !ok {
		return netip.Addr{}
	}

	return addr.Unmap()
}

// quotedEcho extracts the echo identifier and sequence number from the
// original datagram quoted inside an ICMP error.
func quotedEcho(data []byte) (id, seq int, ok bool) {
	if len(data) < quotedEchoMinLen {
		return 0, 0, false
	}

	hdrLen := int(data[0]&0x0f) * 4
	if hdrLen < 20 || len(data) < hdrLen+8 {
		return 0, 0, false
	}

	echo := data[hdrLen:]

	return int(binary.BigEndian.Uint16(echo[4:6])), int(binary.BigEndian.Uint16(echo[6:8])), true
}
