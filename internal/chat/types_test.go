package chat

import "testing"

func TestParseContextKey(t *testing.T) {
	cases := []struct {
		in      string
		want    ContextKey
		wantErr bool
	}{
		{"", GlobalContext, false},
		{"global", GlobalContext, false},
		{"  global ", GlobalContext, false},
		{"case:case_123", ContextKey("case:case_123"), false},
		{"case:", "", true},
		{"bogus", "", true},
	}
	for _, tc := range cases {
		got, err := ParseContextKey(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseContextKey(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseContextKey(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseContextKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestContextKeyCaseID(t *testing.T) {
	k := CaseContext("case_42")
	if !k.IsCase() {
		t.Fatalf("expected %q to be a case context", k)
	}
	if got := k.CaseID(); got != "case_42" {
		t.Errorf("CaseID = %q, want case_42", got)
	}
	if GlobalContext.IsCase() {
		t.Error("global context must not be a case context")
	}
	if got := GlobalContext.CaseID(); got != "" {
		t.Errorf("global CaseID = %q, want empty", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("12345678"); got != 2 {
		t.Errorf("EstimateTokens = %d, want 2", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens empty = %d, want 0", got)
	}
}
