package tsa

import (
	"testing"
)

// FuzzDecode tests that decoding arbitrary base64 text doesn't panic.
func FuzzDecode(f *testing.F) {
	f.Add("MAA=")
	f.Add("MAA")
	f.Add("  MA\nA=\r\n")
	f.Add("-_-_")
	f.Add("====")
	f.Add("")

	f.Fuzz(func(t *testing.T, s string) {
		out, err := Decode(Base64Token(s))
		if err == nil && len(out) == 0 {
			t.Error("Decode() succeeded with an empty payload")
		}
	})
}

// FuzzParseWrapped tests that parsing arbitrary wrapper JSON doesn't panic.
func FuzzParseWrapped(f *testing.F) {
	f.Add([]byte(`{"binary-payload": {"base64": "MAA=", "subtype": "00"}}`))
	f.Add([]byte(`{"$binary": {"base64": "MAA=", "subType": "00"}}`))
	f.Add([]byte(`{"$binary": null}`))
	f.Add([]byte(`[]`))
	f.Add([]byte(`{`))

	f.Fuzz(func(t *testing.T, data []byte) {
		tok, err := ParseWrapped(data)
		if err != nil {
			return
		}
		_, _ = Decode(tok)
	})
}

// FuzzParseResponse tests that parsing arbitrary TSA response data doesn't panic.
func FuzzParseResponse(f *testing.F) {
	f.Add([]byte{0x30, 0x00})
	f.Add([]byte{0x30, 0x05, 0x30, 0x03, 0x02, 0x01, 0x00})
	f.Add([]byte{0x30, 0x80})
	f.Add([]byte{0x00, 0x00, 0x00, 0x00})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = ParseResponse(data)
	})
}

// FuzzParseToken tests that parsing arbitrary token data doesn't panic and
// never yields a partial token.
func FuzzParseToken(f *testing.F) {
	f.Add([]byte{0x30, 0x00})
	f.Add([]byte{0x30, 0x03, 0x02, 0x01, 0x01})
	f.Add([]byte{0x30, 0x80})
	f.Add([]byte{0x30, 0x0d, 0x06, 0x09, 0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x07, 0x02, 0xa0, 0x00})
	f.Add([]byte{0x00, 0x00, 0x00, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		tok, err := ParseToken(data)
		if (tok == nil) == (err == nil) {
			t.Errorf("ParseToken() = %v, %v", tok, err)
		}
	})
}

// FuzzParseDocumentHash tests that parsing arbitrary digest text doesn't panic.
func FuzzParseDocumentHash(f *testing.F) {
	f.Add("sha256:00ff")
	f.Add("0xABCD")
	f.Add(":")
	f.Add("sha3-512:")

	f.Fuzz(func(t *testing.T, s string) {
		dh, err := ParseDocumentHash(s)
		if err == nil && len(dh.Digest) == 0 {
			t.Error("ParseDocumentHash() accepted an empty digest")
		}
	})
}
