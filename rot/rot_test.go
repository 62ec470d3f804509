//
// rot_test.go
//

package rot

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ucbsky/elsa/p2p"
)

var nextPort = 14200
var portMutex sync.Mutex

func testPort() int {
	portMutex.Lock()
	defer portMutex.Unlock()
	port := nextPort
	nextPort++
	return port
}

type sessionOut struct {
	out0  []byte
	out1  []byte
	bytes uint64
}

// runPair runs one session with both roles in-process over localhost
// TCP and returns the sender and receiver outputs.
func runPair(t *testing.T, cfg Config) (sessionOut, sessionOut) {
	t.Helper()

	count := cfg.Count

	var sender sessionOut
	sender.out0 = make([]byte, count)
	sender.out1 = make([]byte, count)

	errCh := make(chan error)

	go func() {
		scfg := cfg
		scfg.Party = Sender
		scfg.Addr = ""
		// One sample sink per role; the receiver keeps the configured
		// one.
		scfg.Timing = nil
		var err error
		sender.bytes, err = RandomOT(scfg, sender.out0, sender.out1)
		errCh <- err
	}()

	var receiver sessionOut
	receiver.out0 = make([]byte, count)
	receiver.out1 = make([]byte, count)

	rcfg := cfg
	rcfg.Party = Receiver
	rcfg.Addr = "localhost"

	// The listener comes up in its own goroutine; retry refused
	// connections for a moment.
	var err error
	for i := 0; i < 100; i++ {
		receiver.bytes, err = RandomOT(rcfg, receiver.out0, receiver.out1)
		if err == nil || !strings.Contains(err.Error(), "refused") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	return sender, receiver
}

func verifyPair(t *testing.T, sender, receiver sessionOut) {
	t.Helper()
	for i := range receiver.out0 {
		bit := receiver.out1[i]
		require.True(t, bit == 0 || bit == 1,
			"choice %d out of range: %d", i, bit)
		expected := sender.out0[i]
		if bit == 1 {
			expected = sender.out1[i]
		}
		require.Equal(t, expected, receiver.out0[i],
			"OT %d: choice %d", i, bit)
	}
}

func TestRandomOT(t *testing.T) {
	for _, mode := range []Mode{IKNP, Ferret} {
		for _, count := range []int{1, 2, 128, 4096} {
			cfg := Config{
				Port:     testPort(),
				Count:    count,
				Mode:     mode,
				CacheDir: t.TempDir(),
			}
			sender, receiver := runPair(t, cfg)
			verifyPair(t, sender, receiver)

			require.Greater(t, sender.bytes, uint64(0))
			require.Greater(t, receiver.bytes, uint64(0))
		}
	}
}

func TestRandomOTVerified(t *testing.T) {
	for _, mode := range []Mode{IKNP, Ferret} {
		cfg := Config{
			Port:             testPort(),
			Count:            128,
			Mode:             mode,
			CacheDir:         t.TempDir(),
			VerifyTranscript: true,
		}
		sender, receiver := runPair(t, cfg)
		verifyPair(t, sender, receiver)
	}
}

func TestRandomOTThreads(t *testing.T) {
	cfg := Config{
		Port:     testPort(),
		Count:    4096,
		Mode:     Ferret,
		Threads:  4,
		CacheDir: t.TempDir(),
	}
	sender, receiver := runPair(t, cfg)
	verifyPair(t, sender, receiver)
}

// The receiver's choice bits must be close to uniform.
func TestChoiceBitUniformity(t *testing.T) {
	cfg := Config{
		Port:  testPort(),
		Count: 10000,
		Mode:  IKNP,
	}
	_, receiver := runPair(t, cfg)

	ones := 0
	for _, b := range receiver.out1 {
		ones += int(b)
	}
	// 10 standard deviations around the mean.
	require.InDelta(t, 5000, ones, 500)
}

func TestByteAccounting(t *testing.T) {
	for _, mode := range []Mode{IKNP, Ferret} {
		var prev uint64
		for _, count := range []int{128, 4096, 65536} {
			cfg := Config{
				Port:     testPort(),
				Count:    count,
				Mode:     mode,
				CacheDir: t.TempDir(),
			}
			sender, receiver := runPair(t, cfg)

			require.Greater(t, sender.bytes, prev,
				"mode %v count %d", mode, count)
			require.Greater(t, receiver.bytes, uint64(0))
			prev = sender.bytes
		}
	}
}

// The second session on a port reuses the cached base correlation
// and moves observably fewer bytes.
func TestFerretCacheReuse(t *testing.T) {
	dir := t.TempDir()
	port := testPort()

	cfg := Config{
		Port:     port,
		Count:    128,
		Mode:     Ferret,
		CacheDir: dir,
	}
	first, _ := runPair(t, cfg)

	second, receiver := runPair(t, cfg)
	verifyPair(t, second, receiver)

	require.Less(t, second.bytes, first.bytes)
}

func TestPreconditions(t *testing.T) {
	out := make([]byte, 16)

	// Each failure must return before any listen or dial; a
	// blocking accept would hang the test.
	tests := []struct {
		name string
		cfg  Config
		out0 []byte
		out1 []byte
	}{
		{
			name: "zero count",
			cfg:  Config{Party: Sender, Port: testPort()},
			out0: out, out1: out,
		},
		{
			name: "nil buffers",
			cfg:  Config{Party: Sender, Port: testPort(), Count: 16},
		},
		{
			name: "short buffer",
			cfg:  Config{Party: Sender, Port: testPort(), Count: 32},
			out0: out, out1: out,
		},
		{
			name: "receiver without address",
			cfg:  Config{Party: Receiver, Port: testPort(), Count: 16},
			out0: out, out1: out,
		},
		{
			name: "unknown mode",
			cfg: Config{Party: Sender, Port: testPort(), Count: 16,
				Mode: Mode(7)},
			out0: out, out1: out,
		},
		{
			name: "unknown party",
			cfg: Config{Party: Party(9), Port: testPort(), Count: 16,
				Addr: "localhost"},
			out0: out, out1: out,
		},
	}
	for _, test := range tests {
		n, err := RandomOT(test.cfg, test.out0, test.out1)
		require.Error(t, err, test.name)
		require.Equal(t, uint64(0), n, test.name)
	}
}

// Extraction must never write outside [0, Count).
func TestBufferIsolation(t *testing.T) {
	const count = 128
	const guard = 0xa5

	buf0 := make([]byte, count+2)
	buf1 := make([]byte, count+2)
	buf0[0], buf0[count+1] = guard, guard
	buf1[0], buf1[count+1] = guard, guard

	errCh := make(chan error)
	port := testPort()

	go func() {
		cfg := Config{
			Party: Sender,
			Port:  port,
			Count: count,
		}
		_, err := RandomOT(cfg, buf0[1:count+1], buf1[1:count+1])
		errCh <- err
	}()

	out0 := make([]byte, count)
	out1 := make([]byte, count)
	cfg := Config{
		Party: Receiver,
		Addr:  "localhost",
		Port:  port,
		Count: count,
	}
	var err error
	for i := 0; i < 100; i++ {
		_, err = RandomOT(cfg, out0, out1)
		if err == nil || !strings.Contains(err.Error(), "refused") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	require.Equal(t, byte(guard), buf0[0])
	require.Equal(t, byte(guard), buf0[count+1])
	require.Equal(t, byte(guard), buf1[0])
	require.Equal(t, byte(guard), buf1[count+1])
}

func TestTimingReport(t *testing.T) {
	timing := NewTiming()
	cfg := Config{
		Port:   testPort(),
		Count:  128,
		Mode:   IKNP,
		Timing: timing,
	}
	runPair(t, cfg)

	stats := p2p.NewIOStats()
	stats.Sent.Store(1024)
	stats.Recvd.Store(2048)
	stats.Flushed.Store(3)

	var buf bytes.Buffer
	timing.Print(&buf, stats)
	report := buf.String()
	require.Contains(t, report, "ROT")
	require.Contains(t, report, "Total")
}
