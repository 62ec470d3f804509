//
// rot.go
//

// Package rot drives one two-party random OT session: it opens the
// channel, runs the selected generator backend over it, and returns
// the low byte of every generated token together with the number of
// bytes moved on the wire.
package rot

import (
	"crypto/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/ucbsky/elsa/ferret"
	"github.com/ucbsky/elsa/ot"
	"github.com/ucbsky/elsa/p2p"
)

// Party selects the session role. The sender listens for the peer
// and the receiver dials.
type Party int

// Session roles.
const (
	Sender Party = iota
	Receiver
)

func (p Party) String() string {
	switch p {
	case Sender:
		return "sender"
	case Receiver:
		return "receiver"
	default:
		return "unknown"
	}
}

// Mode selects the random OT generator backend.
type Mode int

// Generator backends. IKNP runs the OT extension wire protocol with
// the KOS consistency check. Ferret extends a small cached base
// correlation with a compressed wire footprint.
const (
	IKNP   Mode = 0
	Ferret Mode = 1
)

func (m Mode) String() string {
	switch m {
	case IKNP:
		return "iknp"
	case Ferret:
		return "ferret"
	default:
		return "unknown"
	}
}

// DefaultCacheDir is the Ferret setup cache location when the config
// does not name one.
const DefaultCacheDir = "data"

// Config defines one random OT session.
type Config struct {
	Party    Party
	Addr     string
	Port     int
	Count    int
	Mode     Mode
	Threads  int
	CacheDir string

	// Timing is an optional sample sink for the profiling report.
	Timing *Timing

	// VerifyTranscript makes the sender ship both full token
	// vectors after the batch and the receiver check its tokens
	// against them. Debug aid, never set in production sessions.
	VerifyTranscript bool

	Log zerolog.Logger
}

// Generator produces batches of random OT outputs over an
// established channel.
type Generator interface {
	SendRandom(m0, m1 []ot.Label) error
	ReceiveRandom(r []ot.Label, choices []bool) error
	Close() error
}

func (cfg *Config) validate(out0, out1 []byte) error {
	if cfg.Count <= 0 {
		return errors.Errorf("rot: invalid count %d", cfg.Count)
	}
	if out0 == nil || out1 == nil {
		return errors.New("rot: nil output buffer")
	}
	if len(out0) != cfg.Count || len(out1) != cfg.Count {
		return errors.Errorf("rot: output buffers %d,%d != count %d",
			len(out0), len(out1), cfg.Count)
	}
	if cfg.Party != Sender && cfg.Party != Receiver {
		return errors.Errorf("rot: unknown party %d", cfg.Party)
	}
	if cfg.Party == Receiver && len(cfg.Addr) == 0 {
		return errors.New("rot: receiver needs a peer address")
	}
	if cfg.Mode != IKNP && cfg.Mode != Ferret {
		return errors.Errorf("rot: unknown mode %d", cfg.Mode)
	}
	return nil
}

// RandomOT runs one random OT session and extracts the low byte of
// every token into the output buffers. For the sender out0 and out1
// receive the two token bytes of each OT. For the receiver out0
// receives the byte of the chosen token and out1 the choice bits as
// 0/1 bytes. The result is the number of bytes moved on the wire
// during the session.
func RandomOT(cfg Config, out0, out1 []byte) (uint64, error) {
	if err := cfg.validate(out0, out1); err != nil {
		return 0, err
	}

	var conn *p2p.Conn
	var err error
	if cfg.Party == Sender {
		cfg.Log.Debug().Int("port", cfg.Port).Msg("listening for peer")
		conn, err = p2p.Listen(cfg.Port)
	} else {
		cfg.Log.Debug().Str("addr", cfg.Addr).Int("port", cfg.Port).
			Msg("dialing peer")
		conn, err = p2p.Dial(cfg.Addr, cfg.Port)
	}
	if err != nil {
		return 0, errors.Wrap(err, "rot: open channel")
	}

	delta, err := run(cfg, conn, out0, out1)
	cerr := conn.Close()
	if err != nil {
		return 0, err
	}
	if cerr != nil {
		return 0, errors.Wrap(cerr, "rot: close channel")
	}
	return delta, nil
}

func run(cfg Config, conn *p2p.Conn, out0, out1 []byte) (uint64, error) {
	before := conn.Stats.Sum()

	gen, err := newGenerator(cfg, conn)
	if err != nil {
		return 0, err
	}
	defer gen.Close()

	if cfg.Timing != nil {
		cfg.Timing.Sample("Init", nil)
	}

	if err := conn.Sync(); err != nil {
		return 0, errors.Wrap(err, "rot: sync")
	}
	start := time.Now()

	fail := func(err error) (uint64, error) {
		for i := range out0 {
			out0[i] = 0
		}
		for i := range out1 {
			out1[i] = 0
		}
		return 0, err
	}

	n := cfg.Count
	if cfg.Party == Sender {
		m0 := make([]ot.Label, n)
		m1 := make([]ot.Label, n)
		if err := gen.SendRandom(m0, m1); err != nil {
			return fail(errors.Wrap(err, "rot: send batch"))
		}
		if err := conn.Flush(); err != nil {
			return fail(errors.Wrap(err, "rot: flush"))
		}
		sampleBatch(cfg, conn, before)

		for i := 0; i < n; i++ {
			out0[i] = m0[i].LSByte()
			out1[i] = m1[i].LSByte()
		}
		if cfg.VerifyTranscript {
			if err := sendTranscript(conn, m0, m1); err != nil {
				return fail(err)
			}
		}
	} else {
		choices, err := randomBits(n)
		if err != nil {
			return fail(err)
		}
		r := make([]ot.Label, n)
		if err := gen.ReceiveRandom(r, choices); err != nil {
			return fail(errors.Wrap(err, "rot: receive batch"))
		}
		if err := conn.Flush(); err != nil {
			return fail(errors.Wrap(err, "rot: flush"))
		}
		sampleBatch(cfg, conn, before)

		for i := 0; i < n; i++ {
			out0[i] = r[i].LSByte()
			if choices[i] {
				out1[i] = 1
			} else {
				out1[i] = 0
			}
		}
		if cfg.VerifyTranscript {
			if err := verifyTranscript(conn, r, choices); err != nil {
				return fail(err)
			}
		}
	}

	delta := conn.Stats.Sum() - before
	if cfg.Timing != nil {
		cfg.Timing.Stats = conn.Stats
	}
	cfg.Log.Info().
		Stringer("party", cfg.Party).
		Stringer("mode", cfg.Mode).
		Int("count", n).
		Uint64("bytes", delta).
		Dur("elapsed", time.Since(start)).
		Msg("session done")

	return delta, nil
}

// newGenerator is the single dispatch point from session mode to
// generator backend.
func newGenerator(cfg Config, conn *p2p.Conn) (Generator, error) {
	switch cfg.Mode {
	case IKNP:
		gen := ot.NewROT(ot.NewCO(rand.Reader), rand.Reader)
		var err error
		if cfg.Party == Sender {
			err = gen.InitSender(conn)
		} else {
			err = gen.InitReceiver(conn)
		}
		if err != nil {
			return nil, errors.Wrap(err, "rot: init generator")
		}
		return gen, nil

	case Ferret:
		dir := cfg.CacheDir
		if len(dir) == 0 {
			dir = DefaultCacheDir
		}
		store := ferret.NewStore(dir, cfg.Port, cfg.Party.String())
		var gen Generator
		var err error
		if cfg.Party == Sender {
			gen, err = ferret.NewSender(conn, rand.Reader, cfg.Threads,
				store)
		} else {
			gen, err = ferret.NewReceiver(conn, rand.Reader, cfg.Threads,
				store)
		}
		if err != nil {
			return nil, errors.Wrap(err, "rot: init generator")
		}
		return gen, nil

	default:
		return nil, errors.Errorf("rot: unknown mode %d", cfg.Mode)
	}
}

func sampleBatch(cfg Config, conn *p2p.Conn, before uint64) {
	if cfg.Timing == nil {
		return
	}
	cfg.Timing.Sample("ROT", []string{
		FileSize(conn.Stats.Sum() - before).String(),
	})
}

func sendTranscript(conn *p2p.Conn, m0, m1 []ot.Label) error {
	if err := conn.SendData(labelBytes(m0)); err != nil {
		return errors.Wrap(err, "rot: send transcript")
	}
	if err := conn.SendData(labelBytes(m1)); err != nil {
		return errors.Wrap(err, "rot: send transcript")
	}
	if err := conn.Flush(); err != nil {
		return errors.Wrap(err, "rot: send transcript")
	}
	return nil
}

func verifyTranscript(conn *p2p.Conn, r []ot.Label, choices []bool) error {
	b0, err := conn.ReceiveData()
	if err != nil {
		return errors.Wrap(err, "rot: receive transcript")
	}
	b1, err := conn.ReceiveData()
	if err != nil {
		return errors.Wrap(err, "rot: receive transcript")
	}
	if len(b0) != len(r)*16 || len(b1) != len(r)*16 {
		return errors.Errorf("rot: transcript size %d,%d for %d tokens",
			len(b0), len(b1), len(r))
	}
	for i := range r {
		var expected ot.Label
		if choices[i] {
			expected.SetBytes(b1[i*16:])
		} else {
			expected.SetBytes(b0[i*16:])
		}
		if !r[i].Equal(expected) {
			return errors.Errorf("rot: token %d mismatch", i)
		}
	}
	return nil
}

func labelBytes(labels []ot.Label) []byte {
	buf := make([]byte, len(labels)*16)
	var d ot.LabelData
	for i, l := range labels {
		copy(buf[i*16:], l.Bytes(&d))
	}
	return buf
}

func randomBits(n int) ([]bool, error) {
	buf := make([]byte, (n+7)/8)
	if _, err := rand.Read(buf); err != nil {
		return nil, errors.Wrap(err, "rot: choice bits")
	}
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = (buf[i/8]>>(uint(i)%8))&1 == 1
	}
	return out, nil
}
