package internal

import (
	"testing"
)

// FuzzCheckRefreshToken feeds arbitrary strings to the refresh-token shape check.
// Anything it accepts must hash to a stable 64-char key.
func FuzzCheckRefreshToken(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	if token, err := NewRefreshToken(); err == nil {
		f.Add(token)
	}
	f.Add("!!!not-base64!!!")
	f.Add("aGVsbG8=")

	f.Fuzz(func(t *testing.T, input string) {
		if err := CheckRefreshToken(input); err != nil {
			return
		}
		h := HashToken(input)
		if len(h) != 64 {
			t.Fatalf("unexpected hash length %d", len(h))
		}
		if h != HashToken(input) {
			t.Fatal("hash not deterministic")
		}
	})
}
