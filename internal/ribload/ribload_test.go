package ribload

import (
	"encoding/binary"
	"testing"

	"go.uber.org/zap"
)

func buildOpenBMPFrame(payload []byte) []byte {
	frame := make([]byte, 10+len(payload))
	binary.BigEndian.PutUint16(frame[0:2], 2)
	binary.BigEndian.PutUint32(frame[2:6], 0xAABBCCDD)
	binary.BigEndian.PutUint32(frame[6:10], uint32(len(payload)))
	copy(frame[10:], payload)
	return frame
}

// buildRouteMonitoring builds a minimal BMP Route Monitoring message
// wrapping a BGP UPDATE with a single IPv4 NLRI and an AS_PATH of asPath.
func buildRouteMonitoring(asPath []uint32, prefix []byte, prefixLen byte) []byte {
	// AS_PATH attribute: flags(0x40) type(2) len segtype(2) seglen data...
	segData := make([]byte, 2+4*len(asPath))
	segData[0] = 2 // AS_SEQUENCE
	segData[1] = byte(len(asPath))
	for i, asn := range asPath {
		binary.BigEndian.PutUint32(segData[2+4*i:6+4*i], asn)
	}
	asPathAttr := append([]byte{0x40, 2, byte(len(segData))}, segData...)

	// ORIGIN attribute: IGP
	originAttr := []byte{0x40, 1, 1, 0}

	attrs := append(append([]byte{}, originAttr...), asPathAttr...)

	nlri := append([]byte{prefixLen}, prefix...)

	body := make([]byte, 0)
	body = append(body, 0, 0) // withdrawn routes length = 0
	pathAttrLen := make([]byte, 2)
	binary.BigEndian.PutUint16(pathAttrLen, uint16(len(attrs)))
	body = append(body, pathAttrLen...)
	body = append(body, attrs...)
	body = append(body, nlri...)

	bgpMsg := make([]byte, 19+len(body))
	for i := 0; i < 16; i++ {
		bgpMsg[i] = 0xFF
	}
	binary.BigEndian.PutUint16(bgpMsg[16:18], uint16(len(bgpMsg)))
	bgpMsg[18] = 2 // UPDATE
	copy(bgpMsg[19:], body)

	// BMP per-peer header (42 bytes), zeroed, followed by the BGP message.
	perPeer := make([]byte, 42)
	return append(perPeer, bgpMsg...)
}

func buildBMPMessage(routeMonitoringBody []byte) []byte {
	msg := make([]byte, 6+len(routeMonitoringBody))
	msg[0] = 3 // version
	binary.BigEndian.PutUint32(msg[1:5], uint32(len(msg)))
	msg[5] = 0 // MsgTypeRouteMonitoring
	copy(msg[6:], routeMonitoringBody)
	return msg
}

func TestParseDump_SinglePath(t *testing.T) {
	rm := buildRouteMonitoring([]uint32{65001, 65002, 65003}, []byte{10, 0, 0}, 24)
	bmpMsg := buildBMPMessage(rm)
	frame := buildOpenBMPFrame(bmpMsg)

	paths, stats := ParseDump(frame, 16*1024*1024, zap.NewNop())
	if stats.Errors != 0 {
		t.Fatalf("unexpected errors: %d", stats.Errors)
	}
	if len(paths) != 1 {
		t.Fatalf("expected 1 path, got %d", len(paths))
	}
	want := []int{65001, 65002, 65003}
	got := paths[0].ASes
	if len(got) != len(want) {
		t.Fatalf("expected path %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected path %v, got %v", want, got)
		}
	}
	if paths[0].PeerAS != 65001 {
		t.Fatalf("expected peer AS 65001, got %d", paths[0].PeerAS)
	}
}

func TestParseDump_MultipleFrames(t *testing.T) {
	rm1 := buildRouteMonitoring([]uint32{1, 2}, []byte{192, 0, 2}, 24)
	rm2 := buildRouteMonitoring([]uint32{3, 4, 5}, []byte{198, 51, 100}, 24)
	buf := append(buildOpenBMPFrame(buildBMPMessage(rm1)), buildOpenBMPFrame(buildBMPMessage(rm2))...)

	paths, stats := ParseDump(buf, 16*1024*1024, zap.NewNop())
	if stats.Frames != 2 {
		t.Fatalf("expected 2 frames, got %d", stats.Frames)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
}

func TestParseDump_TruncatedFrameStopsCleanly(t *testing.T) {
	rm := buildRouteMonitoring([]uint32{7, 8}, []byte{203, 0, 113}, 24)
	frame := buildOpenBMPFrame(buildBMPMessage(rm))
	truncated := frame[:len(frame)-5]

	paths, stats := ParseDump(truncated, 16*1024*1024, zap.NewNop())
	if stats.Errors == 0 {
		t.Fatal("expected at least one error for truncated frame")
	}
	if len(paths) != 0 {
		t.Fatalf("expected no paths from a truncated frame, got %d", len(paths))
	}
}

func TestSplitASPath(t *testing.T) {
	cases := []struct {
		in   string
		want []int
	}{
		{"100 200 300", []int{100, 200, 300}},
		{"100 {200,300} 400", nil},
		{"", nil},
		{"100 abc", nil},
	}
	for _, c := range cases {
		got := splitASPath(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("splitASPath(%q) = %v, want %v", c.in, got, c.want)
		}
		for i := range c.want {
			if got[i] != c.want[i] {
				t.Fatalf("splitASPath(%q) = %v, want %v", c.in, got, c.want)
			}
		}
	}
}
