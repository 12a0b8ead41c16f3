package drugdb

import (
	"reflect"
	"testing"
)

func TestCandidates(t *testing.T) {
	tests := []struct {
		code string
		want []string
	}{
		{"0093-7214-01", []string{"0093-7214-01"}},
		{"0093721401", []string{"0093-7214-01", "00937-214-01", "00937-2140-1"}},
		{"00093721401", []string{"00093-7214-01", "0093-7214-01"}},
		{"NDC 50090-3196-0", []string{"50090-3196-0"}},
		{"350090319605", []string{"5009-0319-60", "50090-319-60", "50090-3196-0"}},
		{"12345", nil},
	}
	for _, tc := range tests {
		var got []string
		for _, n := range Candidates(tc.code) {
			got = append(got, n.String())
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Candidates(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestEleven(t *testing.T) {
	tests := map[string]string{
		"0093-7214-01":  "00093721401",
		"50090-319-60":  "50090031960",
		"50090-3196-0":  "50090319600",
		"00093-7214-01": "00093721401",
	}
	for code, want := range tests {
		c := Candidates(code)
		if len(c) == 0 {
			t.Fatalf("no candidate for %s", code)
		}
		if got := c[0].Eleven(); got != want {
			t.Errorf("Eleven(%s) = %s, want %s", code, got, want)
		}
	}
}

func TestLookupKeysMatchStoredKey(t *testing.T) {
	stored := catalogDigits("0093-7214-01")
	found := false
	for _, k := range lookupKeys("0093721401") {
		if k == stored {
			found = true
		}
	}
	if !found {
		t.Errorf("bare scan does not reach stored key %s", stored)
	}
}
