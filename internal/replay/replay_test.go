package replay

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"sacnbridge/internal/logger"
	"sacnbridge/internal/packet"
	"sacnbridge/internal/sacn"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

type frame struct {
	at      time.Duration
	port    uint16
	payload []byte
}

func udpFrame(t *testing.T, port uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x01, 0, 0x5e, 0x7f, 0, 1},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      8,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(239, 255, 0, 1),
	}
	udp := &layers.UDP{SrcPort: 50000, DstPort: layers.UDPPort(port)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func arpFrame(t *testing.T) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte{0x02, 0, 0, 0, 0, 1},
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{10, 0, 0, 2},
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp))
	return buf.Bytes()
}

func capture(t *testing.T, frames []frame, extra ...[]byte) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	write := func(at time.Duration, data []byte) {
		ci := gopacket.CaptureInfo{Timestamp: start.Add(at), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	for _, raw := range extra {
		write(0, raw)
	}
	for _, f := range frames {
		write(f.at, udpFrame(t, f.port, f.payload))
	}
	return &out
}

func sacnPayload(cid byte, seq uint8, data ...byte) []byte {
	return packet.Build(&packet.Packet{
		CID:         uuid.UUID{cid},
		Priority:    100,
		Sequence:    seq,
		Universe:    1,
		Data:        data,
		SourceLabel: "console",
	})
}

func TestRead(t *testing.T) {
	r := capture(t, []frame{
		{at: 0, port: 5568, payload: []byte("one")},
		{at: time.Second, port: 6454, payload: []byte("art-net")},
		{at: 2 * time.Second, port: 5568, payload: []byte("two")},
	}, arpFrame(t))

	var got []string
	var stamps []time.Time
	err := Read(context.Background(), r, 0, func(ts time.Time, payload []byte) error {
		got = append(got, string(payload))
		stamps = append(stamps, ts)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, got)
	require.Len(t, stamps, 2)
	assert.True(t, stamps[1].Equal(start.Add(2*time.Second)))
}

func TestReadStops(t *testing.T) {
	r := capture(t, []frame{
		{port: 5568, payload: []byte("one")},
		{port: 5568, payload: []byte("two")},
	})
	stop := errors.New("stop")
	calls := 0
	err := Read(context.Background(), r, 5568, func(time.Time, []byte) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Read(ctx, capture(t, []frame{{port: 5568, payload: []byte("x")}}), 5568, func(time.Time, []byte) error {
		t.Fatal("called after cancel")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadBadCapture(t *testing.T) {
	err := Read(context.Background(), bytes.NewReader([]byte("not a capture")), 0, nil)
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	r := capture(t, []frame{
		{at: 0, port: 5568, payload: sacnPayload(1, 0, 0, 10, 20)},
		{at: 100 * time.Millisecond, port: 5568, payload: []byte("garbage")},
		{at: 200 * time.Millisecond, port: 5568, payload: sacnPayload(1, 1, 0xdd, 1, 1)},
		{at: 6 * time.Second, port: 5568, payload: sacnPayload(2, 0, 0, 5)},
	})

	p := sacn.NewPipeline(logger.Discard(), sacn.PipelineConfig{})
	var results []sacn.Result
	stats, err := Run(context.Background(), logger.Discard(), r, Options{SweepInterval: time.Second}, p, func(res sacn.Result) {
		results = append(results, res)
	})
	require.NoError(t, err)

	assert.Equal(t, Stats{Datagrams: 4, Invalid: 1, Filtered: 1, Expired: 1}, stats)
	require.Len(t, results, 2)
	assert.Len(t, results[0].Changes, 2)
	assert.Equal(t, uuid.UUID{2}, results[1].Packet.CID)

	sources := p.Sources()
	require.Len(t, sources, 1)
	assert.Equal(t, uuid.UUID{2}, sources[0].CID)
}
