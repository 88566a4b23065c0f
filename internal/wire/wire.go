// Package wire implements the WireClient component (§4.G): the UDP
// protocol that carries code sequences and station presence between this
// engine and a KOBServer-compatible relay.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/kobnet/kobengine/internal/code"
)

// Command words occupying the first u16 of every packet, long or short.
type Command uint16

const (
	CmdData       Command = 1 // code packet or ID packet, depending on the element count in the last code slot
	CmdAck        Command = 2
	CmdDisconnect Command = 3
)

// Wire packet geometry, per §4.G/§6.
const (
	shortPacketLen = 2
	longPacketLen  = 496
	stationIDLen   = 128
	codeElements   = 51
)

// longHeader is the fixed-layout prefix of a long packet. Modeled directly on
// the teacher's AGWPEHeader/AGWPEMessage split between a fixed binary.Write
// header and a variable-length payload.
type longHeader struct {
	Cmd        uint16
	ByteCount  uint16
	StationID  [stationIDLen]byte
	SeqNo      uint32
	Code       [codeElements]int16
	Status     uint16
}

// Packet is a decoded long packet: either an ID packet (len(Code) == 0) or a
// code packet (Code holds the meaningful leading elements, as many as the
// count in the packet's last code slot).
type Packet struct {
	StationID string
	SeqNo     uint32
	Code      code.Sequence
	Status    uint16
}

func (p Packet) isID() bool { return len(p.Code) == 0 }

// encodeLong serializes a station id, sequence number, code elements and
// status into a 496-byte long packet.
func encodeLong(stationID string, seqNo uint32, elems []int16, status uint16) []byte {
	var h longHeader
	h.Cmd = uint16(CmdData)
	h.ByteCount = longPacketLen
	copy(h.StationID[:], stationID)
	h.SeqNo = seqNo
	copy(h.Code[:], elems)
	// The last code slot carries the element count (0 for an ID packet).
	h.Code[codeElements-1] = int16(len(elems))
	h.Status = status

	buf := &bytes.Buffer{}
	buf.Grow(longPacketLen)
	binary.Write(buf, binary.LittleEndian, h)
	out := buf.Bytes()
	if len(out) < longPacketLen {
		out = append(out, make([]byte, longPacketLen-len(out))...)
	}
	return out[:longPacketLen]
}

func decodeLong(b []byte) (Packet, error) {
	if len(b) != longPacketLen {
		return Packet{}, fmt.Errorf("wire: long packet has %d bytes, want %d", len(b), longPacketLen)
	}
	var h longHeader
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &h); err != nil {
		return Packet{}, err
	}
	id := string(bytes.TrimRight(h.StationID[:], "\x00"))
	n := int(h.Code[codeElements-1])
	if n < 0 || n > codeElements-1 {
		return Packet{}, fmt.Errorf("wire: invalid element count %d", n)
	}
	seq := make(code.Sequence, n)
	for i := 0; i < n; i++ {
		seq[i] = code.Element(h.Code[i])
	}
	return Packet{StationID: id, SeqNo: h.SeqNo, Code: seq, Status: h.Status}, nil
}

// StationObserver is notified of wire-level presence and sender changes.
type StationObserver interface {
	OnSenderChanged(stationID string)
	OnCodeReceived(seq code.Sequence)
}

// station is a single entry in the wire's presence map.
type station struct {
	lastSeen time.Time
}

// Client is the UDP wire client described by §4.G.
type Client struct {
	conn     *net.UDPConn
	observer StationObserver
	myID     string

	writeMu sync.Mutex
	seqOut  uint32

	mu             sync.Mutex
	seqIn          uint32
	tLastListener  time.Time
	currentSender  string
	stations       map[string]station
	stationMaxAge  time.Duration

	keepAlive     time.Duration
	keepAliveStop chan struct{}

	readTimeout time.Duration
	closed      bool
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithKeepAlive overrides the default keep-alive interval.
func WithKeepAlive(d time.Duration) Option { return func(c *Client) { c.keepAlive = d } }

// WithStationMaxAge overrides how long a station stays in the presence map
// without being refreshed by an inbound long packet.
func WithStationMaxAge(d time.Duration) Option { return func(c *Client) { c.stationMaxAge = d } }

// New resolves addr and opens a UDP socket, but does not send anything; call
// Connect to announce presence and start the keep-alive timer.
func New(addr string, myID string, observer StationObserver, opts ...Option) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:          conn,
		observer:      observer,
		myID:          myID,
		stations:      make(map[string]station),
		stationMaxAge: 5 * time.Minute,
		keepAlive:     9 * time.Second,
		readTimeout:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect sends an initial ID packet and starts the keep-alive timer.
func (c *Client) Connect() error {
	if err := c.sendID(); err != nil {
		return err
	}
	c.keepAliveStop = make(chan struct{})
	go c.keepAliveLoop()
	return nil
}

func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-c.keepAliveStop:
			return
		case <-ticker.C:
			c.sendID()
		}
	}
}

// Disconnect sends the disconnect short packet and stops the keep-alive
// timer. The socket itself stays open; call Close to release it.
func (c *Client) Disconnect() error {
	if c.keepAliveStop != nil {
		close(c.keepAliveStop)
		c.keepAliveStop = nil
	}
	return c.sendShort(CmdDisconnect)
}

func (c *Client) sendShort(cmd Command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	buf := make([]byte, shortPacketLen)
	binary.LittleEndian.PutUint16(buf, uint16(cmd))
	_, err := c.conn.Write(buf)
	return err
}

// sendID emits an ID packet: a long packet whose code element count is 0.
func (c *Client) sendID() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	pkt := encodeLong(c.myID, c.seqOut, nil, 0)
	_, err := c.conn.Write(pkt)
	return err
}

// Write encodes seq into one or more long packets (splitting on the 50
// element cap, per §4.G's "splitting if it exceeds 50 elements"), advancing
// seq_out by 2 per packet sent.
func (c *Client) Write(seq code.Sequence) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for len(seq) > 0 {
		chunk := seq
		if len(chunk) > codeElements-1 {
			chunk = seq[:codeElements-1]
		}
		elems := make([]int16, len(chunk))
		for i, e := range chunk {
			elems[i] = int16(e)
		}
		pkt := encodeLong(c.myID, c.seqOut, elems, uint16(len(chunk)))
		if _, err := c.conn.Write(pkt); err != nil {
			return err
		}
		c.seqOut += 2
		seq = seq[len(chunk):]
	}
	return nil
}

// Run blocks reading and dispatching inbound packets until the socket is
// closed or closing is requested via Close.
func (c *Client) Run() error {
	buf := make([]byte, longPacketLen)
	for {
		c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		n, err := c.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if c.isClosed() {
				return nil
			}
			return err
		}
		c.dispatch(buf[:n])
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) dispatch(b []byte) {
	switch len(b) {
	case shortPacketLen:
		// ACK and keep-alive-end short packets are ignored, per §4.G.
		return
	case longPacketLen:
		pkt, err := decodeLong(b)
		if err != nil {
			return
		}
		c.handleLong(pkt)
	default:
		// Malformed-length packets are dropped without being logged, as are
		// long packets that decodeLong rejects above.
		return
	}
}

func (c *Client) handleLong(pkt Packet) {
	c.mu.Lock()
	c.tLastListener = time.Now()
	if entry, ok := c.stations[pkt.StationID]; ok {
		entry.lastSeen = time.Now()
		c.stations[pkt.StationID] = entry
	} else {
		c.stations[pkt.StationID] = station{lastSeen: time.Now()}
	}
	c.pruneLocked()

	if pkt.isID() {
		changed := pkt.StationID != c.currentSender
		if pkt.SeqNo == c.seqIn+2 {
			c.seqIn = 0
		}
		c.currentSender = pkt.StationID
		c.mu.Unlock()
		if changed && c.observer != nil {
			c.observer.OnSenderChanged(pkt.StationID)
		}
		return
	}

	seq := pkt.Code
	if pkt.SeqNo != c.seqIn+1 {
		seq = append(code.Sequence{code.DiscontinuitySpace}, seq...)
	}
	c.seqIn = pkt.SeqNo
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.OnCodeReceived(seq)
	}
}

// pruneLocked drops stations not refreshed within stationMaxAge. Callers
// must already hold c.mu.
func (c *Client) pruneLocked() {
	cutoff := time.Now().Add(-c.stationMaxAge)
	for id, st := range c.stations {
		if st.lastSeen.Before(cutoff) {
			delete(c.stations, id)
		}
	}
}

// SeqOut returns the next outgoing sequence number that will be used for a
// code packet, useful for diagnostics and for the wire-ordering invariant in
// §8.
func (c *Client) SeqOut() uint32 {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.seqOut
}

// ClearStations empties the presence map and forgets the current sender,
// used by the orchestrator's disconnect follow-up (§4.I).
func (c *Client) ClearStations() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stations = make(map[string]station)
	c.currentSender = ""
}

// Stations returns a snapshot of the live station presence map.
func (c *Client) Stations() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Time, len(c.stations))
	for id, st := range c.stations {
		out[id] = st.lastSeen
	}
	return out
}

// CurrentSender returns the most recently seen station id from an ID
// packet, or "" if none has been seen.
func (c *Client) CurrentSender() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSender
}

// ListenerActive reports whether any inbound packet has arrived within d of
// now, the "someone is listening" predicate used to throttle senders.
func (c *Client) ListenerActive(d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.tLastListener.IsZero() && time.Since(c.tLastListener) < d
}

// Close releases the socket, unblocking any in-flight Run.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

var _ io.Closer = (*Client)(nil)
