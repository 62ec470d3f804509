//
// label_test.go
//

package ot

import (
	"crypto/rand"
	"testing"
)

func TestLabelBits(t *testing.T) {
	var label Label

	for i := 0; i < 64; i++ {
		if label.Bit(i) != 0 {
			t.Errorf("bit %d set in zero label", i)
		}
	}
	label.SetBit(0, 1)
	if label.Bit(0) != 1 {
		t.Error("failed to set bit 0")
	}
	if label.D1 != 1 {
		t.Errorf("bit 0 landed in wrong word: d0=%x, d1=%x",
			label.D0, label.D1)
	}
	label.SetBit(0, 0)
	if label.Bit(0) != 0 {
		t.Error("failed to clear bit 0")
	}

	label = Label{}
	label.SetBit(63, 1)
	if label.D1 != 1<<63 {
		t.Errorf("bit 63: d1=%x", label.D1)
	}
	label.SetBit(64, 1)
	if label.D0 != 1 {
		t.Errorf("bit 64: d0=%x", label.D0)
	}
}

func TestLabelLSByte(t *testing.T) {
	label := Label{
		D0: 0xffffffffffffffff,
		D1: 0xffffffffffffff5a,
	}
	if label.LSByte() != 0x5a {
		t.Errorf("LSByte: %x", label.LSByte())
	}
	label.D1 ^= 1
	if label.LSByte() != 0x5b {
		t.Errorf("LSByte after flip: %x", label.LSByte())
	}
}

func TestLabelData(t *testing.T) {
	for i := 0; i < 16; i++ {
		l, err := NewLabel(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		var data LabelData
		l.GetData(&data)

		var l2 Label
		l2.SetData(&data)
		if !l2.Equal(l) {
			t.Errorf("GetData/SetData: %v != %v", l2, l)
		}
	}
}

func TestLabelAnd(t *testing.T) {
	a := Label{D0: 0xff00ff00ff00ff00, D1: 0x0f0f0f0f0f0f0f0f}
	b := Label{D0: 0xffff0000ffff0000, D1: 0x00ff00ff00ff00ff}
	a.And(b)
	expected := Label{D0: 0xff000000ff000000, D1: 0x000f000f000f000f}
	if !a.Equal(expected) {
		t.Errorf("And: %v != %v", a, expected)
	}
}
