package fingerprint

import (
	"testing"

	"github.com/ipfs/go-cid"

	"github.com/andresmejia3/pixelvault/internal/canon"
)

func TestKnownDigests(t *testing.T) {
	tests := []struct {
		algo  string
		input string
		want  string
	}{
		{algo: "md5", input: "", want: "d41d8cd98f00b204e9800998ecf8427e"},
		{algo: "md5", input: "abc", want: "900150983cd24fb0d6963f7d28e17f72"},
		{algo: "sha2-256", input: "abc", want: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{algo: "", input: "", want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
	}

	for _, tt := range tests {
		t.Run(tt.algo+"/"+tt.input, func(t *testing.T) {
			e, err := NewEngine(tt.algo)
			if err != nil {
				t.Fatalf("NewEngine(%q) failed: %v", tt.algo, err)
			}
			got := e.Sum([]byte(tt.input))
			if got.Hex() != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got.Hex())
			}
		})
	}
}

func TestFingerprintUsesPixelsOnly(t *testing.T) {
	e, err := NewEngine("sha2-256")
	if err != nil {
		t.Fatal(err)
	}

	pix := []byte{1, 2, 3, 4, 5, 6}
	wide := &canon.Image{Width: 2, Height: 1, Channels: 3, BytesPerChannel: 1, Pix: pix}
	tall := &canon.Image{Width: 1, Height: 2, Channels: 3, BytesPerChannel: 1, Pix: append([]byte(nil), pix...)}

	a, b := e.Fingerprint(wide), e.Fingerprint(tall)
	if a != b {
		t.Errorf("Identical pixel bytes should share a fingerprint: %s vs %s", a, b)
	}
	if a != e.Sum(pix) {
		t.Error("Fingerprint should equal Sum over Pix")
	}

	tall.Pix[0] = 9
	if e.Fingerprint(tall) == a {
		t.Error("Changing one pixel must change the fingerprint")
	}
}

func TestFingerprintEncodings(t *testing.T) {
	e, err := NewEngine("sha2-256")
	if err != nil {
		t.Fatal(err)
	}
	fp := e.Sum([]byte("pixels"))

	if fp.IsZero() {
		t.Fatal("Computed fingerprint reported as zero")
	}
	if (Fingerprint{}).IsZero() != true {
		t.Error("Zero value should report IsZero")
	}
	if fp.Algorithm() != "sha2-256" {
		t.Errorf("Expected sha2-256, got %s", fp.Algorithm())
	}
	if len(fp.Hex()) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(fp.Hex()))
	}

	id := fp.CID()
	if !id.Defined() || id.Type() != cid.Raw {
		t.Fatalf("Unexpected CID %v", id)
	}
	parsed, err := cid.Decode(id.String())
	if err != nil || !parsed.Equals(id) {
		t.Errorf("CID does not round trip: %v", err)
	}
}

func TestUnknownAlgorithm(t *testing.T) {
	if _, err := NewEngine("rot13"); err == nil {
		t.Error("Expected an error for an unknown algorithm")
	}
}
