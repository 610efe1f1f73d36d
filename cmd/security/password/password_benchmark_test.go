package password

import "testing"

func BenchmarkHash_DefaultConfig(b *testing.B) {
	cfg := DefaultConfig()
	pw := "this is a strong password 123!"

	for b.Loop() {
		if _, err := cfg.Hash(pw); err != nil {
			b.Fatalf("Hash error: %v", err)
		}
	}
}

func BenchmarkVerify_DefaultConfig(b *testing.B) {
	cfg := DefaultConfig()
	pw := "this is a strong password 123!"
	h, err := cfg.Hash(pw)
	if err != nil {
		b.Fatalf("Hash error: %v", err)
	}

	for b.Loop() {
		ok, err := cfg.Verify(h, pw)
		if err != nil || !ok {
			b.Fatalf("Verify failed: ok=%v err=%v", ok, err)
		}
	}
}
