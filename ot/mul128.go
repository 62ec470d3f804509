//
// mul128.go
//

package ot

// mul128 computes the 256-bit carry-less product of a and b. The
// result is returned as two labels holding the low and high 128 bits.
func mul128(a, b Label) (lo, hi Label) {
	hhLo, hhHi := clmul64(a.D0, b.D0)
	llLo, llHi := clmul64(a.D1, b.D1)

	m0Lo, m0Hi := clmul64(a.D0, b.D1)
	m1Lo, m1Hi := clmul64(a.D1, b.D0)

	midLo := m0Lo ^ m1Lo
	midHi := m0Hi ^ m1Hi

	lo.D1 = llLo
	lo.D0 = llHi ^ midLo

	hi.D1 = hhLo ^ midHi
	hi.D0 = hhHi

	return
}
