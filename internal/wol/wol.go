// Package wol builds and transmits raw Ethernet Wake-on-LAN magic
// packets, caching one sender per network interface the way a
// multi-interface daemon caches one handle per NIC.
package wol

import (
	"net"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
)

// MagicPacketSize is the total length, in bytes, of a Wake-on-LAN frame:
// a 14-byte Ethernet header plus the 102-byte magic payload.
const MagicPacketSize = 116

// EtherTypeWakeOnLAN is the EtherType carried by a WoL frame.
const EtherTypeWakeOnLAN = layers.EthernetType(0x0842)

// Sentinel error kinds, matching spec.md's WoL error taxonomy.
var (
	ErrNoSuchInterface = errors.New("no such interface")
	ErrNoSourceMAC     = errors.New("interface has no hardware address")
	ErrOpenFailed      = errors.New("failed to open interface for writing")
	ErrSendFailed      = errors.New("failed to send magic packet")
)

// packetWriter is the subset of *pcap.Handle the Waker needs, so tests
// can substitute a fake without touching libpcap or interface
// permissions.
type packetWriter interface {
	WritePacketData(data []byte) error
	Close()
}

// sender owns the raw handle for one network interface. The datalink
// write primitive is not safe for concurrent use, so every send through
// one sender is serialized by mu.
type sender struct {
	mu        sync.Mutex
	sourceMAC net.HardwareAddr
	handle    packetWriter
}

func (s *sender) send(destination net.HardwareAddr) error {
	packet, err := buildMagicPacket(s.sourceMAC, destination)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.handle.WritePacketData(packet); err != nil {
		return errors.Wrap(ErrSendFailed, err.Error())
	}
	return nil
}

// Waker sends Wake-on-LAN magic packets on configured interfaces,
// lazily opening and caching one sender per interface name.
type Waker struct {
	mu sync.Mutex
	// interfaces is enumerated once at construction, mirroring
	// wake.rs's Shared.interfaces; senderFor looks names up here
	// instead of re-querying the OS on every first use.
	interfaces map[string]net.Interface
	senders    map[string]*sender

	// openLive is overridable in tests so they don't need real NIC/pcap
	// permissions to exercise the caching and packet-building logic.
	openLive func(ifaceName string) (packetWriter, error)
}

// NewWaker enumerates the host's network interfaces and constructs a
// Waker with no senders yet open. Senders are created on demand by
// Wake, mirroring the per-interface lookup-or-open idiom ap-arpspoof
// uses for its pcap handle.
func NewWaker() *Waker {
	w := &Waker{
		interfaces: make(map[string]net.Interface),
		senders:    make(map[string]*sender),
		openLive:   defaultOpenLive,
	}

	if ifaces, err := net.Interfaces(); err == nil {
		for _, iface := range ifaces {
			w.interfaces[iface.Name] = iface
		}
	}

	return w
}

func defaultOpenLive(ifaceName string) (packetWriter, error) {
	handle, err := pcap.OpenLive(ifaceName, 65536, false, pcap.BlockForever)
	if err != nil {
		return nil, errors.Wrap(ErrOpenFailed, err.Error())
	}
	return handle, nil
}

// Wake sends one magic packet targeting destination on the named
// interface. The send itself is a blocking syscall; it runs on its own
// goroutine and Wake blocks until that send returns. Wake takes no
// context, so the wait is not bounded.
func (w *Waker) Wake(ifaceName string, destination net.HardwareAddr) error {
	s, err := w.senderFor(ifaceName)
	if err != nil {
		return err
	}

	result := make(chan error, 1)
	go func() {
		result <- s.send(destination)
	}()
	return <-result
}

func (w *Waker) senderFor(ifaceName string) (*sender, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if s, ok := w.senders[ifaceName]; ok {
		return s, nil
	}

	iface, ok := w.interfaces[ifaceName]
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchInterface, "%s", ifaceName)
	}
	if len(iface.HardwareAddr) == 0 {
		return nil, errors.Wrapf(ErrNoSourceMAC, "%s", ifaceName)
	}

	handle, err := w.openLive(ifaceName)
	if err != nil {
		return nil, err
	}

	s := &sender{sourceMAC: iface.HardwareAddr, handle: handle}
	w.senders[ifaceName] = s
	return s, nil
}

// Close releases every cached interface handle. Intended for use during
// Controller shutdown.
func (w *Waker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, s := range w.senders {
		s.handle.Close()
		delete(w.senders, name)
	}
}

// buildMagicPacket constructs the bit-exact 116-byte WoL frame: a
// 14-byte Ethernet header (dst=target, src=interface, EtherType
// 0x0842) followed by 6 bytes of 0xFF and the target MAC repeated 16
// times.
func buildMagicPacket(source, destination net.HardwareAddr) ([]byte, error) {
	ether := layers.Ethernet{
		SrcMAC:       source,
		DstMAC:       destination,
		EthernetType: EtherTypeWakeOnLAN,
	}

	payload := make([]byte, 0, 102)
	for i := 0; i < 6; i++ {
		payload = append(payload, 0xFF)
	}
	for i := 0; i < 16; i++ {
		payload = append(payload, destination...)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}
	if err := gopacket.SerializeLayers(buf, opts, &ether, gopacket.Payload(payload)); err != nil {
		return nil, errors.Wrap(err, "serializing magic packet")
	}

	packet := buf.Bytes()
	if len(packet) != MagicPacketSize {
		return nil, errors.Errorf("built packet of %d bytes, want %d", len(packet), MagicPacketSize)
	}
	return packet, nil
}
