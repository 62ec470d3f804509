//
// rot.go
//

package ot

import (
	"fmt"
	"io"
)

const (
	otBatchSize = 8
)

// ROT implements an IKNP-based random OT generator. The sender
// obtains random label pairs (m0, m1) and the receiver obtains the
// label matching its choice bit. The generator always runs the
// KOS-style consistency check and provides security against
// malicious adversaries (with abort); there is no semi-honest entry
// point.
type ROT struct {
	base  OT
	r     io.Reader
	io    IO
	iknpS *IKNPSender
	iknpR *IKNPReceiver
}

// NewROT creates a new random OT generator over the argument base
// OT.
func NewROT(base OT, r io.Reader) *ROT {
	return &ROT{
		base: base,
		r:    r,
	}
}

// InitSender initializes the sender side: the base OT and the IKNP
// extension setup run with the peer.
func (rot *ROT) InitSender(io IO) error {
	if rot.iknpS != nil || rot.iknpR != nil {
		return fmt.Errorf("already initialized")
	}
	err := rot.base.InitSender(io)
	if err != nil {
		return err
	}
	s, err := NewIKNPSender(rot.base, io, rot.r, nil)
	if err != nil {
		return err
	}
	rot.io = io
	rot.iknpS = s

	return nil
}

// InitReceiver initializes the receiver side.
func (rot *ROT) InitReceiver(io IO) error {
	if rot.iknpS != nil || rot.iknpR != nil {
		return fmt.Errorf("already initialized")
	}
	err := rot.base.InitReceiver(io)
	if err != nil {
		return err
	}
	r, err := NewIKNPReceiver(rot.base, io, rot.r)
	if err != nil {
		return err
	}
	rot.io = io
	rot.iknpR = r

	return nil
}

// SendRandom fills m0 and m1 with random OT pairs. The slices must
// have equal length.
func (rot *ROT) SendRandom(m0, m1 []Label) error {
	if rot.iknpS == nil {
		return fmt.Errorf("not initialized as sender")
	}
	if len(m0) != len(m1) {
		return fmt.Errorf("length mismatch: %d != %d", len(m0), len(m1))
	}
	n := len(m0)

	data, err := rot.iknpS.Send(n, true)
	if err != nil {
		return err
	}
	seed, err := NewLabel(rot.r)
	if err != nil {
		return err
	}
	mitccrh := NewMITCCRH(seed, otBatchSize)

	var ld LabelData
	err = rot.io.SendLabel(seed, &ld)
	if err != nil {
		return err
	}
	err = rot.io.Flush()
	if err != nil {
		return err
	}

	pad := make([]Label, 2*otBatchSize)
	for i := 0; i < n; i += otBatchSize {
		end := i + otBatchSize
		if end > n {
			end = n
		}
		for j := i; j < end; j++ {
			pad[2*(j-i)] = data[j]
			pad[2*(j-i)+1] = data[j]
			pad[2*(j-i)+1].Xor(rot.iknpS.Delta)
		}
		mitccrh.Hash(pad, otBatchSize, 2)
		for j := i; j < end; j++ {
			m0[j] = pad[2*(j-i)]
			m1[j] = pad[2*(j-i)+1]
		}
	}

	return nil
}

// ReceiveRandom fills result with the random OT labels matching the
// argument choice flags. The slices must have equal length.
func (rot *ROT) ReceiveRandom(result []Label, flags []bool) error {
	if rot.iknpR == nil {
		return fmt.Errorf("not initialized as receiver")
	}
	if len(result) != len(flags) {
		return fmt.Errorf("length mismatch: %d != %d",
			len(result), len(flags))
	}
	err := rot.iknpR.Receive(flags, result, true)
	if err != nil {
		return err
	}
	var seed Label
	var ld LabelData
	err = rot.io.ReceiveLabel(&seed, &ld)
	if err != nil {
		return err
	}
	mitccrh := NewMITCCRH(seed, otBatchSize)

	pad := make([]Label, otBatchSize)
	for i := 0; i < len(flags); i += otBatchSize {
		copy(pad, result[i:])
		mitccrh.Hash(pad, otBatchSize, 1)
		end := otBatchSize
		if end > len(flags)-i {
			end = len(flags) - i
		}
		copy(result[i:i+end], pad[:end])
	}

	return nil
}

// Close releases the generator. The IKNP state has no external
// resources so Close is a no-op; it exists to keep the generator
// lifecycle uniform across backends.
func (rot *ROT) Close() error {
	return nil
}
