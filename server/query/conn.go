package query

import (
	"bytes"
	"encoding/binary"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"time"
)

// challengeTTL is how long an issued challenge token stays valid. The
// protocol requires clients to redeem tokens quickly, so a short window
// suffices.
const challengeTTL = 30 * time.Second

// packetConn intercepts query requests and answers them directly, passing
// all other traffic through to the wrapped PacketConn.
type packetConn struct {
	net.PacketConn

	log  Logger
	host string
	port int

	mu         sync.Mutex
	challenges map[string]challenge
}

// Logger is the logging seam of the query responder.
type Logger interface {
	Debug(msg string, args ...any)
}

type challenge struct {
	value  int32
	expiry time.Time
}

// ReadFrom filters query datagrams out of the incoming traffic, handling
// them in place so that only regular RakNet datagrams reach the caller.
func (c *packetConn) ReadFrom(p []byte) (int, net.Addr, error) {
	for {
		n, addr, err := c.PacketConn.ReadFrom(p)
		if err != nil || n == 0 {
			return n, addr, err
		}
		if c.handleQuery(p[:n], addr) {
			continue
		}
		return n, addr, nil
	}
}

// handleQuery recognises and answers query requests, reporting whether the
// datagram passed was one.
func (c *packetConn) handleQuery(b []byte, addr net.Addr) bool {
	if len(b) < 7 || b[0] != queryMagic[0] || b[1] != queryMagic[1] {
		return false
	}
	sequence := int32(binary.BigEndian.Uint32(b[3:7]))
	switch b[2] {
	case queryTypeHandshake:
		c.writeHandshake(addr, sequence, c.issueChallenge(addr.String()))
		return true
	case queryTypeInformation:
		if len(b) <= 7 {
			return true
		}
		value, ok := parseChallengeValue(b[7:])
		if !ok || !c.redeemChallenge(addr.String(), value) {
			return true
		}
		c.writeInfo(addr, sequence)
		return true
	default:
		return false
	}
}

// issueChallenge issues a challenge token for the address passed. The
// protocol requires clients to present one before information is served, to
// guard against traffic amplification towards spoofed addresses.
func (c *packetConn) issueChallenge(addr string) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.challenges == nil {
		c.challenges = make(map[string]challenge)
	}
	now := time.Now()
	// Addresses that handshake without following up would otherwise pile up.
	if len(c.challenges) >= 64 {
		for a, ch := range c.challenges {
			if now.After(ch.expiry) {
				delete(c.challenges, a)
			}
		}
	}
	value := rand.Int32()
	c.challenges[addr] = challenge{value: value, expiry: now.Add(challengeTTL)}
	return value
}

// redeemChallenge reports whether an unexpired challenge with the value
// passed is held by the address. A mismatch invalidates any token the
// address holds.
func (c *packetConn) redeemChallenge(addr string, value int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.challenges[addr]
	if !ok || time.Now().After(ch.expiry) || ch.value != value {
		delete(c.challenges, addr)
		return false
	}
	return true
}

// writeHandshake answers a handshake request with the issued challenge
// token, encoded as a zero-padded decimal string.
func (c *packetConn) writeHandshake(addr net.Addr, sequence, value int32) {
	buf := bytes.NewBuffer(make([]byte, 0, 1+4+12))
	buf.WriteByte(queryTypeHandshake)
	_ = binary.Write(buf, binary.BigEndian, sequence)

	token := strconv.FormatInt(int64(value), 10)
	if len(token) > 12 {
		token = token[:12]
	}
	buf.WriteString(token)
	if padding := 12 - len(token); padding > 0 {
		buf.Write(make([]byte, padding))
	}
	if _, err := c.PacketConn.WriteTo(buf.Bytes(), addr); err != nil {
		c.log.Debug("query handshake write failed", "err", err, "raddr", addr.String())
	}
}

// writeInfo answers a validated information request with the full server
// information payload.
func (c *packetConn) writeInfo(addr net.Addr, sequence int32) {
	data := gather(c.host, c.port)

	buf := bytes.NewBuffer(make([]byte, 0, 256))
	buf.WriteByte(queryTypeInformation)
	_ = binary.Write(buf, binary.BigEndian, sequence)
	buf.Write(querySplitNum[:])
	buf.WriteByte(0x80)
	buf.WriteByte(0x00)

	for _, kv := range data.keyValues() {
		buf.WriteString(kv.key)
		buf.WriteByte(0x00)
		buf.WriteString(kv.value)
		buf.WriteByte(0x00)
	}
	buf.WriteByte(0x00)
	buf.Write(queryPlayerKey[:])
	for _, name := range data.PlayerNames {
		buf.WriteString(name)
		buf.WriteByte(0x00)
	}
	buf.WriteByte(0x00)

	if _, err := c.PacketConn.WriteTo(buf.Bytes(), addr); err != nil {
		c.log.Debug("query info write failed", "err", err, "raddr", addr.String())
	}
}

// parseChallengeValue extracts the challenge token from an information
// request. Most clients send the token as a zero-padded decimal string,
// some send it as a raw big-endian integer; both forms are accepted.
func parseChallengeValue(payload []byte) (int32, bool) {
	trimmed := payload
	if i := bytes.Index(trimmed, []byte{0xff, 0xff, 0xff, 0x01}); i >= 0 {
		trimmed = trimmed[:i]
	}
	trimmed = bytes.TrimRight(trimmed, "\x00")
	if len(trimmed) > 0 {
		if value, err := strconv.ParseInt(string(trimmed), 10, 32); err == nil {
			return int32(value), true
		}
	}
	if len(payload) >= 4 {
		return int32(binary.BigEndian.Uint32(payload[:4])), true
	}
	return 0, false
}
