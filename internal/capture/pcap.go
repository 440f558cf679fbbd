package capture

import (
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket/pcap"
	log "github.com/sirupsen/logrus"

	"tsprobe/internal/config"
)

// PcapBackend captures with libpcap: BPF-filtered promiscuous capture
// plus an explicit IGMP join so multicast groups keep flowing to the
// host.
type PcapBackend struct {
	cfg    config.CaptureConfig
	handle *pcap.Handle
	mconn  *net.UDPConn

	received uint64
}

// NewPcapBackend creates a libpcap backend from the capture config.
func NewPcapBackend(cfg config.CaptureConfig) *PcapBackend {
	return &PcapBackend{cfg: cfg}
}

// Start opens the device, applies the flow filter, and joins the
// multicast group when the target address is one.
func (b *PcapBackend) Start() error {
	device := b.cfg.Device
	if device == "" {
		d, err := autoSelectDevice()
		if err != nil {
			return err
		}
		device = d
		log.WithField("device", device).Info("Capture device auto-selected")
	}

	target := net.ParseIP(b.cfg.Address)
	if target != nil && target.IsMulticast() {
		if err := b.joinMulticast(device, target); err != nil {
			return err
		}
	}

	inactive, err := pcap.NewInactiveHandle(device)
	if err != nil {
		return fmt.Errorf("failed to create capture handle on %s: %w", device, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(b.cfg.Snaplen); err != nil {
		return fmt.Errorf("failed to set snaplen: %w", err)
	}
	if err := inactive.SetPromisc(b.cfg.Promiscuous); err != nil {
		return fmt.Errorf("failed to set promiscuous mode: %w", err)
	}
	if err := inactive.SetTimeout(time.Duration(b.cfg.ReadTimeoutMs) * time.Millisecond); err != nil {
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	if b.cfg.BufferBytes > 0 {
		if err := inactive.SetBufferSize(b.cfg.BufferBytes); err != nil {
			return fmt.Errorf("failed to set buffer size: %w", err)
		}
	}
	if b.cfg.Immediate {
		if err := inactive.SetImmediateMode(true); err != nil {
			return fmt.Errorf("failed to set immediate mode: %w", err)
		}
	}

	handle, err := inactive.Activate()
	if err != nil {
		return fmt.Errorf("failed to activate capture on %s: %w", device, err)
	}

	filter := fmt.Sprintf("udp dst port %d and ip dst host %s", b.cfg.Port, b.cfg.Address)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return fmt.Errorf("failed to set BPF filter %q: %w", filter, err)
	}

	b.handle = handle
	log.WithFields(log.Fields{
		"device": device,
		"filter": filter,
	}).Info("Capture started")
	return nil
}

// ReceiveBatch reads up to max packets from the handle. The first
// timeout inside a batch returns what was collected so far; an empty
// batch maps to ErrTimeout.
func (b *PcapBackend) ReceiveBatch(max int) ([][]byte, error) {
	var batch [][]byte
	for len(batch) < max {
		data, _, err := b.handle.ReadPacketData()
		if err != nil {
			if err == pcap.NextErrorTimeoutExpired {
				break
			}
			return batch, fmt.Errorf("capture read failed: %w", err)
		}
		pkt := make([]byte, len(data))
		copy(pkt, data)
		batch = append(batch, pkt)
		b.received++
	}
	if len(batch) == 0 {
		return nil, ErrTimeout
	}
	return batch, nil
}

// Stop closes the handle and leaves the multicast group.
func (b *PcapBackend) Stop() {
	if b.handle != nil {
		b.handle.Close()
		b.handle = nil
	}
	if b.mconn != nil {
		b.mconn.Close()
		b.mconn = nil
	}
}

// Stats reads the libpcap drop counters.
func (b *PcapBackend) Stats() Stats {
	s := Stats{Received: b.received}
	if b.handle == nil {
		return s
	}
	ps, err := b.handle.Stats()
	if err != nil {
		log.WithError(err).Debug("Capture stats unavailable")
		return s
	}
	s.Dropped = uint64(ps.PacketsDropped)
	s.IfDropped = uint64(ps.PacketsIfDropped)
	return s
}

// joinMulticast holds a kernel-level group membership for the capture
// lifetime so upstream switches keep forwarding the group.
func (b *PcapBackend) joinMulticast(device string, group net.IP) error {
	iface, err := net.InterfaceByName(device)
	if err != nil {
		return fmt.Errorf("failed to resolve interface %s: %w", device, err)
	}
	conn, err := net.ListenMulticastUDP("udp4", iface, &net.UDPAddr{IP: group, Port: b.cfg.Port})
	if err != nil {
		return fmt.Errorf("failed to join multicast group %s on %s: %w", group, device, err)
	}
	b.mconn = conn
	log.WithFields(log.Fields{
		"group":  group.String(),
		"device": device,
	}).Info("Multicast group joined")
	return nil
}

// autoSelectDevice picks the first device carrying a usable unicast
// IPv4 address.
func autoSelectDevice() (string, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate capture devices: %w", err)
	}
	for _, d := range devs {
		for _, addr := range d.Addresses {
			ip := addr.IP
			if ip.To4() != nil && !ip.IsLoopback() && !ip.IsUnspecified() {
				return d.Name, nil
			}
		}
	}
	return "", fmt.Errorf("no capture device with an IPv4 address found")
}
