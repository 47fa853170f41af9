package config

import "testing"

func TestParseStaffTokens(t *testing.T) {
	tokens := parseStaffTokens("tok-a:staff-1:admin, tok-b:staff-2 ,, :missing:role, tok-c:")
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d: %v", len(tokens), tokens)
	}
	if tokens["tok-a"].StaffID != "staff-1" || tokens["tok-a"].Role != "admin" {
		t.Fatalf("unexpected tok-a entry %+v", tokens["tok-a"])
	}
	if tokens["tok-b"].StaffID != "staff-2" || tokens["tok-b"].Role != "" {
		t.Fatalf("unexpected tok-b entry %+v", tokens["tok-b"])
	}
}

func TestParseStaffTokensEmpty(t *testing.T) {
	if tokens := parseStaffTokens(""); len(tokens) != 0 {
		t.Fatalf("expected no tokens, got %v", tokens)
	}
}
