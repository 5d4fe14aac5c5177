package attestation

import (
	"crypto/ed25519"
	"testing"
)

// FuzzPrecheck checks that arbitrary signature payloads never panic the parser.
func FuzzPrecheck(f *testing.F) {
	seed := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	f.Add(NewEd25519Operation(seed, []byte("digest")).Data)
	f.Add([]byte{})
	f.Add([]byte{1, 0})
	f.Add([]byte{255, 0, 0xFF, 0xFF})

	f.Fuzz(func(t *testing.T, data []byte) {
		_ = Precheck([]Operation{{Program: Ed25519Program, Data: data}, {Program: "Other", Data: data}})
	})
}
