package token

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tok := Token{Source: SourceRemote, Opaque: []byte("cont-12345")}

	encoded := Encode(tok)
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.Source != tok.Source {
		t.Errorf("expected source %v, got %v", tok.Source, decoded.Source)
	}
	if string(decoded.Opaque) != string(tok.Opaque) {
		t.Errorf("expected opaque %q, got %q", tok.Opaque, decoded.Opaque)
	}
}

func TestEncodeDecodeWithPadding(t *testing.T) {
	tok := Token{Source: SourceLocal, Opaque: []byte("abc")}
	encoded := Encode(tok)

	padded := make([]byte, 64)
	copy(padded, encoded)

	decoded, err := Decode(padded)
	if err != nil {
		t.Fatalf("Decode with padding failed: %v", err)
	}
	if string(decoded.Opaque) != "abc" {
		t.Errorf("expected opaque %q, got %q", "abc", decoded.Opaque)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte{1, 2}); err != ErrMalformed {
		t.Errorf("expected ErrMalformed, got %v", err)
	}

	if _, err := Decode([]byte{1, 0xFF, 0xFF, 0xFF, 0xFF}); err != ErrMalformed {
		t.Errorf("expected ErrMalformed for out-of-range length, got %v", err)
	}
}

func TestEmptyToken(t *testing.T) {
	var tok Token
	if !tok.Empty() {
		t.Error("expected zero-value token to be Empty")
	}

	decoded, err := Decode(Encode(tok))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !decoded.Empty() {
		t.Error("expected round-tripped zero token to be Empty")
	}
}
