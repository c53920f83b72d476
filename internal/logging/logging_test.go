package logging

import "testing"

func TestMaskPhone(t *testing.T) {
	cases := map[string]string{
		"":              "****",
		"1234":          "****",
		"12345":         "12*45",
		"5551234567":    "55******67",
		"+491234567890": "+4*********90",
	}
	for in, want := range cases {
		if got := MaskPhone(in); got != want {
			t.Errorf("MaskPhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPhoneField_masks(t *testing.T) {
	f := Phone("5551234567")
	if f.Key != "phone" {
		t.Errorf("field key = %q, want phone", f.Key)
	}
	if f.String != "55******67" {
		t.Errorf("field value = %q, want masked phone", f.String)
	}
}
