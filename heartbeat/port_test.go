package heartbeat

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"testing"

	"github.com/vinayprograms/agentbeat/errors"
)

// fakeProbe marks every port in occupied as in use and every port in broken
// as failing; all others are free. It records the ports it saw.
type fakeProbe struct {
	occupied map[int]bool
	broken   map[int]bool
	seen     []int
}

func (f *fakeProbe) probe(_ context.Context, _ string, port int) ProbeResult {
	f.seen = append(f.seen, port)
	switch {
	case f.occupied[port]:
		return ProbeResult{Port: port, Status: ProbeOccupied, Err: fmt.Errorf("address already in use")}
	case f.broken[port]:
		return ProbeResult{Port: port, Status: ProbeError, Err: fmt.Errorf("permission denied")}
	default:
		return ProbeResult{Port: port, Status: ProbeFree}
	}
}

func portSet(from, to int) map[int]bool {
	m := make(map[int]bool)
	for p := from; p < to; p++ {
		m[p] = true
	}
	return m
}

func newTestScanner(t *testing.T, cfg PortScanConfig) *PortScanner {
	t.Helper()
	s, err := NewPortScanner(cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewPortScanner() error = %v", err)
	}
	return s
}

func TestPortScanner_FirstFree(t *testing.T) {
	fp := &fakeProbe{}
	s := newTestScanner(t, PortScanConfig{Probe: fp.probe})

	res, err := s.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Port != DefaultStartPort || res.Probes != 1 {
		t.Errorf("Resolve() = %+v, want port %d after 1 probe", res, DefaultStartPort)
	}
}

func TestPortScanner_SkipsOccupied(t *testing.T) {
	for _, n := range []int{1, 3, 99} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			fp := &fakeProbe{occupied: portSet(8080, 8080+n)}
			s := newTestScanner(t, PortScanConfig{Probe: fp.probe})

			res, err := s.Resolve(context.Background())
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if res.Port != 8080+n {
				t.Errorf("Port = %d, want %d", res.Port, 8080+n)
			}
			if res.Probes != n+1 || len(fp.seen) != n+1 {
				t.Errorf("Probes = %d (seen %d), want %d", res.Probes, len(fp.seen), n+1)
			}
			if res.Occupied != n {
				t.Errorf("Occupied = %d, want %d", res.Occupied, n)
			}
			for i, p := range fp.seen {
				if p != 8080+i {
					t.Fatalf("probe %d hit port %d, want sequential order", i, p)
				}
			}
		})
	}
}

func TestPortScanner_Exhausted(t *testing.T) {
	fp := &fakeProbe{occupied: portSet(8080, 8180)}
	s := newTestScanner(t, PortScanConfig{Probe: fp.probe})

	res, err := s.Resolve(context.Background())
	if !errors.Is(err, errors.ErrCodePortExhausted) {
		t.Fatalf("Resolve() error = %v, want PORT_EXHAUSTED", err)
	}
	if len(fp.seen) != DefaultMaxAttempts || res.Probes != DefaultMaxAttempts {
		t.Errorf("probed %d ports, want exactly %d", len(fp.seen), DefaultMaxAttempts)
	}

	start, end, ok := ExhaustedRange(err)
	if !ok || start != 8080 || end != 8180 {
		t.Errorf("ExhaustedRange() = %d, %d, %v; want 8080, 8180, true", start, end, ok)
	}
	if errors.GetMetadata(err)["occupied"] != "100" {
		t.Errorf("occupied metadata = %q", errors.GetMetadata(err)["occupied"])
	}
	if errors.Cause(err) == nil {
		t.Error("exhaustion should carry the last probe error as cause")
	}
}

func TestPortScanner_ProbeErrorsAdvance(t *testing.T) {
	fp := &fakeProbe{broken: portSet(9000, 9002)}
	s := newTestScanner(t, PortScanConfig{StartPort: 9000, MaxAttempts: 5, Probe: fp.probe})

	res, err := s.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Port != 9002 || res.Failed != 2 {
		t.Errorf("Resolve() = %+v, want port 9002 with 2 failures", res)
	}
}

func TestPortScanner_StopsAtMaxPort(t *testing.T) {
	fp := &fakeProbe{occupied: portSet(65530, 65536)}
	s := newTestScanner(t, PortScanConfig{StartPort: 65530, MaxAttempts: 100, Probe: fp.probe})

	_, err := s.Resolve(context.Background())
	if !errors.Is(err, errors.ErrCodePortExhausted) {
		t.Fatalf("Resolve() error = %v, want PORT_EXHAUSTED", err)
	}
	if len(fp.seen) != 6 {
		t.Errorf("probed %d ports, want 6 (65530-65535)", len(fp.seen))
	}
}

func TestPortScanner_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fp := &fakeProbe{}
	s := newTestScanner(t, PortScanConfig{Probe: fp.probe})

	_, err := s.Resolve(ctx)
	if !errors.Is(err, errors.ErrCodeCanceled) {
		t.Errorf("Resolve() error = %v, want CANCELED", err)
	}
	if len(fp.seen) != 0 {
		t.Errorf("no probes expected after cancel, got %d", len(fp.seen))
	}
}

func TestPortScanConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  PortScanConfig
	}{
		{"negative start", PortScanConfig{StartPort: -1, MaxAttempts: 1}},
		{"start above range", PortScanConfig{StartPort: 70000, MaxAttempts: 1}},
		{"negative attempts", PortScanConfig{StartPort: 8080, MaxAttempts: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPortScanner(tt.cfg, nil, nil); !errors.Is(err, errors.ErrCodeInvalidInput) {
				t.Errorf("NewPortScanner() error = %v, want INVALID_INPUT", err)
			}
		})
	}
}

func TestProbePort_Real(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	res := ProbePort(context.Background(), "127.0.0.1", port)
	if res.Status != ProbeOccupied {
		t.Errorf("probe of held port = %v (%v), want occupied", res.Status, res.Err)
	}

	ln.Close()
	res = ProbePort(context.Background(), "127.0.0.1", port)
	if res.Status != ProbeFree {
		t.Errorf("probe of released port = %v (%v), want free", res.Status, res.Err)
	}

	// The probe must not keep the port: binding it again has to work.
	again, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("port still held after probe: %v", err)
	}
	again.Close()
}

func TestProbeStatus_String(t *testing.T) {
	if ProbeOccupied.String() != "occupied" || ProbeStatus(9).String() != "ProbeStatus(9)" {
		t.Error("unexpected ProbeStatus strings")
	}
}
