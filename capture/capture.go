// Package capture acquires packets from pcap files or live interfaces via
// gopacket and reduces them to the TCP view the flow table consumes.
package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// PacketInfo is the decoded view of one captured packet. Only TCP packets
// are emitted; everything else is counted and dropped.
type PacketInfo struct {
	Number    int
	Timestamp time.Time
	Length    int

	SrcIP   string
	DstIP   string
	SrcPort uint16
	DstPort uint16

	Seq uint32
	Ack uint32

	SYN bool
	ACK bool
	FIN bool
	RST bool
	PSH bool

	Payload []byte
}

// Capturer reads packets from a pcap handle and emits decoded TCP packets on
// a channel.
type Capturer struct {
	handle *pcap.Handle
	source string

	stopOnce sync.Once
	stopCh   chan struct{}

	skipped int
}

// NewFileCapturer opens a pcap or pcapng file.
func NewFileCapturer(path string) (*Capturer, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	if err := handle.SetBPFFilter("tcp"); err != nil {
		handle.Close()
		return nil, fmt.Errorf("set bpf filter: %w", err)
	}
	return &Capturer{handle: handle, source: path, stopCh: make(chan struct{})}, nil
}

// NewLiveCapturer opens a network interface for live capture.
func NewLiveCapturer(iface string, snaplen int32, promisc bool) (*Capturer, error) {
	if snaplen <= 0 {
		snaplen = 262144
	}
	handle, err := pcap.OpenLive(iface, snaplen, promisc, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("open interface %s: %w", iface, err)
	}
	if err := handle.SetBPFFilter("tcp"); err != nil {
		handle.Close()
		return nil, fmt.Errorf("set bpf filter: %w", err)
	}
	return &Capturer{handle: handle, source: iface, stopCh: make(chan struct{})}, nil
}

// Start begins reading packets. The returned channel closes when the source
// is exhausted or Stop is called.
func (c *Capturer) Start() <-chan PacketInfo {
	out := make(chan PacketInfo, 256)
	src := gopacket.NewPacketSource(c.handle, c.handle.LinkType())
	src.NoCopy = true

	go func() {
		defer close(out)
		number := 0
		for packet := range src.Packets() {
			number++
			info, ok := decodeTCP(packet, number)
			if !ok {
				c.skipped++
				continue
			}
			select {
			case out <- info:
			case <-c.stopCh:
				return
			}
		}
	}()
	return out
}

// Stop terminates the capture and closes the underlying handle.
func (c *Capturer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.handle.Close()
	})
}

// Source returns the file path or interface name being read.
func (c *Capturer) Source() string { return c.source }

// decodeTCP extracts the TCP view of a packet.
func decodeTCP(packet gopacket.Packet, number int) (PacketInfo, bool) {
	info := PacketInfo{Number: number}

	if meta := packet.Metadata(); meta != nil {
		info.Timestamp = meta.Timestamp
		info.Length = meta.Length
	}

	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		info.SrcIP = ip.SrcIP.String()
		info.DstIP = ip.DstIP.String()
	case *layers.IPv6:
		info.SrcIP = ip.SrcIP.String()
		info.DstIP = ip.DstIP.String()
	default:
		return info, false
	}

	tcp, ok := packet.TransportLayer().(*layers.TCP)
	if !ok {
		return info, false
	}

	info.SrcPort = uint16(tcp.SrcPort)
	info.DstPort = uint16(tcp.DstPort)
	info.Seq = tcp.Seq
	info.Ack = tcp.Ack
	info.SYN = tcp.SYN
	info.ACK = tcp.ACK
	info.FIN = tcp.FIN
	info.RST = tcp.RST
	info.PSH = tcp.PSH
	info.Payload = tcp.Payload
	return info, true
}

// Interface describes one capturable network interface.
type Interface struct {
	Name        string
	Description string
	Addresses   []string
}

// ListInterfaces enumerates the capturable interfaces.
func ListInterfaces() ([]Interface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	out := make([]Interface, 0, len(devs))
	for _, dev := range devs {
		iface := Interface{Name: dev.Name, Description: dev.Description}
		for _, addr := range dev.Addresses {
			iface.Addresses = append(iface.Addresses, addr.IP.String())
		}
		out = append(out, iface)
	}
	return out, nil
}
