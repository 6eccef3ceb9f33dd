package payload

import (
	"errors"
	"testing"
)

func TestEncodeNumericSurrogate(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"123e4567-e89b-12d3-a456-426614174000", "1483351720"},
		{"550e8400-e29b-41d4-a716-446655440000", "1716781005"},
		{"00000000-0000-0000-0000-000000000000", "1428967488"},
		{"a", "0000000097"},
		{"", "0000000000"},
	}
	for _, tt := range tests {
		if got := EncodeNumericSurrogate(tt.id); got != tt.want {
			t.Errorf("EncodeNumericSurrogate(%q) = %s, want %s", tt.id, got, tt.want)
		}
	}
}

func TestEncodeNumericSurrogateLength(t *testing.T) {
	for _, id := range []string{"x", "zz", "550e8400-e29b-41d4-a716-446655440000"} {
		if got := EncodeNumericSurrogate(id); len(got) != NumericIDLength {
			t.Errorf("len(%q) = %d", got, len(got))
		}
	}
}

func TestParse(t *testing.T) {
	const id = "550e8400-e29b-41d4-a716-446655440000"

	tests := []struct {
		name    string
		raw     string
		want    Payload
		wantErr bool
	}{
		{"json uuid", `{"businessId":"` + id + `"}`, Payload{BusinessID: id}, false},
		{"json numeric", `{"businessNumericId":"1716781005"}`, Payload{BusinessNumericID: "1716781005"}, false},
		{"json both consistent", `{"businessId":"` + id + `","businessNumericId":"1716781005"}`, Payload{BusinessID: id, BusinessNumericID: "1716781005"}, false},
		{"bare uuid uppercase", "550E8400-E29B-41D4-A716-446655440000", Payload{BusinessID: id}, false},
		{"bare numeric", " 1716781005 ", Payload{BusinessNumericID: "1716781005"}, false},
		{"empty", "   ", Payload{}, true},
		{"empty object", `{}`, Payload{}, true},
		{"broken json", `{"businessId":`, Payload{}, true},
		{"bad uuid", `{"businessId":"not-a-uuid"}`, Payload{}, true},
		{"short numeric", `{"businessNumericId":"12345"}`, Payload{}, true},
		{"conflicting", `{"businessId":"` + id + `","businessNumericId":"0000000001"}`, Payload{}, true},
		{"free text", "hello there", Payload{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseSentinels(t *testing.T) {
	if _, err := Parse(""); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if _, err := Parse(`{"other":1}`); !errors.Is(err, ErrNoIdentifier) {
		t.Errorf("expected ErrNoIdentifier, got %v", err)
	}
}

func TestPayloadString(t *testing.T) {
	p := Payload{BusinessNumericID: "0000000097"}
	if got := p.String(); got != `{"businessNumericId":"0000000097"}` {
		t.Errorf("String = %s", got)
	}
}
