package cryptoprim

import (
	"math/big"
	"testing"
)

func TestFullHexRoundTrip(t *testing.T) {
	priv := big.NewInt(0xC0FFEE)
	pub := PublicKeyFromPrivate(priv)

	enc := PointToFullHex(pub)
	if len(enc) != 128 {
		t.Fatalf("expected 64-byte hex (128 chars), got %d", len(enc))
	}

	dec, err := FullHexToPoint(enc)
	if err != nil {
		t.Fatalf("FullHexToPoint: %v", err)
	}
	if !PointsEqual(pub, dec) {
		t.Fatalf("round-trip point mismatch")
	}
}

func TestCompressedRoundTrip(t *testing.T) {
	for _, k := range []int64{1, 2, 3, 42, 123456789} {
		priv := big.NewInt(k)
		pub := PublicKeyFromPrivate(priv)

		enc := PointToCompressed(pub)
		dec, err := CompressedToPoint(enc)
		if err != nil {
			t.Fatalf("k=%d: CompressedToPoint: %v", k, err)
		}
		if !PointsEqual(pub, dec) {
			t.Fatalf("k=%d: compressed round-trip point mismatch", k)
		}
	}
}

func TestParseAddressAcceptsBothForms(t *testing.T) {
	priv := big.NewInt(777)
	pub := PublicKeyFromPrivate(priv)

	full, err := ParseAddress(PointToFullHex(pub))
	if err != nil || !PointsEqual(full, pub) {
		t.Fatalf("ParseAddress(full-hex) failed: %v", err)
	}

	compressed, err := ParseAddress(PointToCompressed(pub))
	if err != nil || !PointsEqual(compressed, pub) {
		t.Fatalf("ParseAddress(compressed) failed: %v", err)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv := big.NewInt(98765)
	pub := PublicKeyFromPrivate(priv)
	msg := "deadbeef"

	r, s, err := Sign(priv, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(pub, msg, r, s); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	r2, s2, err := Sign(priv, msg)
	if err != nil {
		t.Fatalf("Sign (second call): %v", err)
	}
	if r.Cmp(r2) != 0 || s.Cmp(s2) != 0 {
		t.Fatalf("Sign is not deterministic: got (%s,%s) then (%s,%s)", r, s, r2, s2)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	priv := big.NewInt(1111)
	otherPriv := big.NewInt(2222)
	otherPub := PublicKeyFromPrivate(otherPriv)
	msg := "cafebabe"

	r, s, err := Sign(priv, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(otherPub, msg, r, s); err == nil {
		t.Fatalf("expected verification failure against the wrong public key")
	}
}

func TestAmountLEBytesRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 255, 256, 1_000_000, 30_062_005_000_000} {
		enc := AmountToLEBytes(v)
		if got := LEBytesToAmount(enc); got != v {
			t.Fatalf("amount round-trip: want %d got %d (bytes=%x)", v, got, enc)
		}
	}
}
