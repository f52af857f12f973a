package broker

import "testing"

func TestCodecRoundTrip(t *testing.T) {
	codecs := []Codec{CodecNone{}, CodecSnappy{}, CodecLZ4{}, CodecZstd{}}
	payload := []byte("the quick brown fox jumps over the lazy dog, repeated, repeated, repeated")

	for _, c := range codecs {
		encoded, err := c.Encode(payload)
		if err != nil {
			t.Fatalf("%s: Encode() error = %v", c.Name(), err)
		}
		decoded, err := c.Decode(encoded)
		if err != nil {
			t.Fatalf("%s: Decode() error = %v", c.Name(), err)
		}
		if string(decoded) != string(payload) {
			t.Errorf("%s: round trip = %q, want %q", c.Name(), decoded, payload)
		}
	}
}

func TestCodecNoneIsPassthrough(t *testing.T) {
	c := CodecNone{}
	payload := []byte("x")
	encoded, _ := c.Encode(payload)
	if &encoded[0] != &payload[0] {
		t.Error("CodecNone.Encode() copied the payload, want passthrough")
	}
}
