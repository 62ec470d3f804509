//
// ferret.go
//

// Package ferret implements a random OT generator in the Ferret
// style: a small set of base correlated OTs is extended into an
// arbitrary number of outputs with a sparse LPN-style combination,
// and the correlation is broken with the MITCCRH hash. The base
// correlations are persisted in a Store and reused across sessions.
package ferret

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/ucbsky/elsa/ot"
	"golang.org/x/crypto/chacha20"
)

const (
	// baseCount is the size of the base correlation.
	baseCount = 1024

	// lpnWeight is the number of base correlations XOR-combined
	// into each output. XOR preserves the correlation: the combined
	// labels still differ by delta exactly when the combined choice
	// bits differ.
	lpnWeight = 10

	batchSize = 8
)

// Ferret generates random OTs from a persisted base correlation.
type Ferret struct {
	io      ot.IO
	rand    io.Reader
	threads int
	store   *Store

	sender bool
	delta  ot.Label
	base   []ot.Label
	bits   []bool
}

// NewSender creates the sender side of the generator. The
// constructor negotiates cache use with the peer and runs the base
// OT setup when either side has no cached correlation.
func NewSender(conn ot.IO, rand io.Reader, threads int, store *Store) (
	*Ferret, error) {

	f := &Ferret{
		io:      conn,
		rand:    rand,
		threads: threads,
		store:   store,
		sender:  true,
	}
	return f, f.setup()
}

// NewReceiver creates the receiver side of the generator.
func NewReceiver(conn ot.IO, rand io.Reader, threads int, store *Store) (
	*Ferret, error) {

	f := &Ferret{
		io:      conn,
		rand:    rand,
		threads: threads,
		store:   store,
	}
	return f, f.setup()
}

func (f *Ferret) setup() error {
	have := 0
	var err error
	var cachedBits []bool
	var cachedBase []ot.Label
	var cachedDelta ot.Label
	var ok bool

	if f.sender {
		cachedDelta, cachedBase, ok, err = f.store.LoadSender()
	} else {
		cachedBits, cachedBase, ok, err = f.store.LoadReceiver()
	}
	if err != nil {
		return err
	}
	if ok && len(cachedBase) == baseCount {
		have = 1
	}

	// The sender announces first and the receiver answers so that
	// the negotiation never has both parties writing at once.
	var peer int
	if f.sender {
		if err := f.io.SendUint32(have); err != nil {
			return errors.Wrap(err, "cache negotiation")
		}
		if err := f.io.Flush(); err != nil {
			return errors.Wrap(err, "cache negotiation")
		}
		peer, err = f.io.ReceiveUint32()
	} else {
		peer, err = f.io.ReceiveUint32()
		if err != nil {
			return errors.Wrap(err, "cache negotiation")
		}
		if err := f.io.SendUint32(have); err != nil {
			return errors.Wrap(err, "cache negotiation")
		}
		if err := f.io.Flush(); err != nil {
			return errors.Wrap(err, "cache negotiation")
		}
	}
	if err != nil {
		return errors.Wrap(err, "cache negotiation")
	}

	if have == 1 && peer == 1 {
		f.delta = cachedDelta
		f.base = cachedBase
		f.bits = cachedBits
		return nil
	}
	return f.baseSetup()
}

func (f *Ferret) baseSetup() error {
	base := ot.NewCO(f.rand)

	if f.sender {
		if err := base.InitSender(f.io); err != nil {
			return errors.Wrap(err, "base OT")
		}
		iknp, err := ot.NewIKNPSender(base, f.io, f.rand, nil)
		if err != nil {
			return errors.Wrap(err, "base setup")
		}
		q, err := iknp.Send(baseCount, true)
		if err != nil {
			return errors.Wrap(err, "base setup")
		}
		f.delta = iknp.Delta
		f.base = q
		return f.store.SaveSender(f.delta, f.base)
	}

	if err := base.InitReceiver(f.io); err != nil {
		return errors.Wrap(err, "base OT")
	}
	iknp, err := ot.NewIKNPReceiver(base, f.io, f.rand)
	if err != nil {
		return errors.Wrap(err, "base setup")
	}
	bits, err := randomBits(f.rand, baseCount)
	if err != nil {
		return err
	}
	t := make([]ot.Label, baseCount)
	if err := iknp.Receive(bits, t, true); err != nil {
		return errors.Wrap(err, "base setup")
	}
	f.bits = bits
	f.base = t
	return f.store.SaveReceiver(f.bits, f.base)
}

// SendRandom fills m0 and m1 with random OT pairs. The slices must
// have equal length.
func (f *Ferret) SendRandom(m0, m1 []ot.Label) error {
	if !f.sender {
		return errors.New("not initialized as sender")
	}
	if len(m0) != len(m1) {
		return errors.Errorf("length mismatch: %d != %d",
			len(m0), len(m1))
	}
	n := len(m0)

	lpnSeed, err := ot.NewLabel(f.rand)
	if err != nil {
		return err
	}
	hashSeed, err := ot.NewLabel(f.rand)
	if err != nil {
		return err
	}
	var ld ot.LabelData
	if err := f.io.SendLabel(lpnSeed, &ld); err != nil {
		return errors.Wrap(err, "send seeds")
	}
	if err := f.io.SendLabel(hashSeed, &ld); err != nil {
		return errors.Wrap(err, "send seeds")
	}
	if err := f.io.Flush(); err != nil {
		return errors.Wrap(err, "send seeds")
	}

	q, _, err := f.expand(lpnSeed, n)
	if err != nil {
		return err
	}

	// The receiver's correction vector moves each output onto its
	// chosen branch: q ⊕ c*delta pairs with the receiver's label
	// under the receiver's own choice bit.
	corr, err := f.io.ReceiveData()
	if err != nil {
		return errors.Wrap(err, "receive correction")
	}
	if len(corr) != (n+7)/8 {
		return errors.Errorf("correction vector: %d bytes for %d outputs",
			len(corr), n)
	}
	for i := 0; i < n; i++ {
		if (corr[i/8]>>(uint(i)%8))&1 == 1 {
			q[i].Xor(f.delta)
		}
	}

	f.hash(hashSeed, n, func(mh *ot.MITCCRH, pad []ot.Label,
		start, limit int) {

		for j := start; j < limit; j++ {
			pad[2*(j-start)] = q[j]
			pad[2*(j-start)+1] = q[j]
			pad[2*(j-start)+1].Xor(f.delta)
		}
		mh.Hash(pad, batchSize, 2)
		for j := start; j < limit; j++ {
			m0[j] = pad[2*(j-start)]
			m1[j] = pad[2*(j-start)+1]
		}
	})

	return nil
}

// ReceiveRandom fills result with the random OT labels matching the
// argument choice flags. The slices must have equal length.
func (f *Ferret) ReceiveRandom(result []ot.Label, flags []bool) error {
	if f.sender {
		return errors.New("not initialized as receiver")
	}
	if len(result) != len(flags) {
		return errors.Errorf("length mismatch: %d != %d",
			len(result), len(flags))
	}
	n := len(result)

	var lpnSeed, hashSeed ot.Label
	var ld ot.LabelData
	if err := f.io.ReceiveLabel(&lpnSeed, &ld); err != nil {
		return errors.Wrap(err, "receive seeds")
	}
	if err := f.io.ReceiveLabel(&hashSeed, &ld); err != nil {
		return errors.Wrap(err, "receive seeds")
	}

	t, x, err := f.expand(lpnSeed, n)
	if err != nil {
		return err
	}

	corr := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		if x[i] != flags[i] {
			corr[i/8] |= 1 << (uint(i) % 8)
		}
	}
	if err := f.io.SendData(corr); err != nil {
		return errors.Wrap(err, "send correction")
	}
	if err := f.io.Flush(); err != nil {
		return errors.Wrap(err, "send correction")
	}

	f.hash(hashSeed, n, func(mh *ot.MITCCRH, pad []ot.Label,
		start, limit int) {

		for j := start; j < limit; j++ {
			pad[j-start] = t[j]
		}
		mh.Hash(pad[:batchSize], batchSize, 1)
		for j := start; j < limit; j++ {
			result[j] = pad[j-start]
		}
	})

	return nil
}

// Close releases the generator. The store is opened per operation so
// there is nothing to release; Close keeps the generator lifecycle
// uniform across backends.
func (f *Ferret) Close() error {
	return nil
}

// expand derives n sparse combinations of the base correlation from
// the seed. The second result holds the combined choice bits on the
// receiver side and is nil on the sender side.
func (f *Ferret) expand(seed ot.Label, n int) ([]ot.Label, []bool, error) {
	var d ot.LabelData
	seedBytes := seed.Bytes(&d)
	key := make([]byte, 32)
	for i := 0; i < 32; i++ {
		key[i] = seedBytes[i%len(seedBytes)]
	}
	nonce := make([]byte, 12)
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, nil, errors.Wrap(err, "keystream")
	}
	ks := make([]byte, n*lpnWeight*2)
	c.XORKeyStream(ks, ks)

	out := make([]ot.Label, n)
	var xbits []bool
	if !f.sender {
		xbits = make([]bool, n)
	}
	for i := 0; i < n; i++ {
		off := i * lpnWeight * 2
		for k := 0; k < lpnWeight; k++ {
			idx := int(binary.LittleEndian.Uint16(ks[off+2*k:])) &
				(baseCount - 1)
			out[i].Xor(f.base[idx])
			if xbits != nil && f.bits[idx] {
				xbits[i] = !xbits[i]
			}
		}
	}
	return out, xbits, nil
}

// hash runs fn over batchSize-sized slices of [0,n), partitioned over
// the configured number of worker goroutines. Partition boundaries
// are multiples of batchSize so that every worker's key schedule
// agrees with a run that started from zero.
func (f *Ferret) hash(seed ot.Label, n int,
	fn func(mh *ot.MITCCRH, pad []ot.Label, start, limit int)) {

	threads := f.threads
	if threads < 1 {
		threads = 1
	}
	per := (n + threads - 1) / threads
	per = (per + batchSize - 1) &^ (batchSize - 1)
	if per == 0 {
		return
	}

	var wg sync.WaitGroup
	for start := 0; start < n; start += per {
		end := start + per
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			mh := ot.NewMITCCRHAt(seed, batchSize, uint64(start))
			pad := make([]ot.Label, 2*batchSize)
			for i := start; i < end; i += batchSize {
				limit := i + batchSize
				if limit > end {
					limit = end
				}
				fn(mh, pad, i, limit)
			}
		}(start, end)
	}
	wg.Wait()
}

func randomBits(r io.Reader, n int) ([]bool, error) {
	buf := make([]byte, (n+7)/8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "random bits")
	}
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = (buf[i/8]>>(uint(i)%8))&1 == 1
	}
	return out, nil
}
