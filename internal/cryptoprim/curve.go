package cryptoprim

import (
	"crypto/elliptic"
	"math/big"
)

// Curve is the fixed prime-256 curve every address and signature in this
// node is defined over. NIST P-256 — not secp256k1 — so the pack's
// btcec/secp256k1 helpers have no role here; the standard library's
// elliptic.P256 is the correct, and only, fit.
func Curve() elliptic.Curve {
	return elliptic.P256()
}

// Point is an affine point on Curve.
type Point struct {
	X, Y *big.Int
}

// IsOnCurve reports whether p satisfies y² = x³ + ax + b (mod p) for Curve.
func IsOnCurve(p Point) bool {
	if p.X == nil || p.Y == nil {
		return false
	}
	return Curve().IsOnCurve(p.X, p.Y)
}

// modSqrt returns a square root of a modulo the P-256 prime, which is
// congruent to 3 mod 4, so sqrt(a) = a^((p+1)/4) mod p whenever a is a
// quadratic residue.
func modSqrt(a, p *big.Int) *big.Int {
	exp := new(big.Int).Add(p, big.NewInt(1))
	exp.Div(exp, big.NewInt(4))
	return new(big.Int).Exp(a, exp, p)
}

// yFromX recovers a y-coordinate for x on Curve, then selects the even or
// odd root per wantOdd. Returns nil if x is not on the curve at all.
func yFromX(x *big.Int, wantOdd bool) *big.Int {
	curve := Curve().Params()
	p := curve.P

	// y² = x³ - 3x + b (mod p); P-256 has a = -3.
	x3 := new(big.Int).Exp(x, big.NewInt(3), p)
	threeX := new(big.Int).Mul(x, big.NewInt(3))
	rhs := new(big.Int).Sub(x3, threeX)
	rhs.Add(rhs, curve.B)
	rhs.Mod(rhs, p)

	y := modSqrt(rhs, p)

	// Verify: modSqrt returns *a* root only when rhs is a residue.
	check := new(big.Int).Exp(y, big.NewInt(2), p)
	if check.Cmp(rhs) != 0 {
		return nil
	}

	if y.Bit(0) == 1 != wantOdd {
		y = new(big.Int).Sub(p, y)
	}
	return y
}
