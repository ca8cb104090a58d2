package model

import "testing"

func TestNewModelRef(t *testing.T) {
	tests := []struct {
		name            string
		identifier      string
		revision        string
		requireRevision bool
		wantErr         bool
	}{
		{name: "valid with revision", identifier: "defog/sqlcoder-7b", revision: "main", wantErr: false},
		{name: "valid without revision, not required", identifier: "defog/sqlcoder-7b", revision: "", requireRevision: false, wantErr: false},
		{name: "missing revision, required", identifier: "defog/sqlcoder-7b", revision: "", requireRevision: true, wantErr: true},
		{name: "no namespace", identifier: "sqlcoder-7b", wantErr: true},
		{name: "whitespace in identifier", identifier: "defog /sqlcoder-7b", wantErr: true},
		{name: "empty identifier", identifier: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModelRef(tt.identifier, tt.revision, PrecisionAuto, tt.requireRevision)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewModelRef(%q, %q) error = %v, wantErr %v", tt.identifier, tt.revision, err, tt.wantErr)
			}
		})
	}
}

func TestModelRefStoreKey(t *testing.T) {
	ref, err := NewModelRef("defog/sqlcoder-7b", "main", PrecisionAuto, false)
	if err != nil {
		t.Fatalf("NewModelRef: %v", err)
	}
	got := ref.StoreKey()
	want := "defog__sqlcoder-7b/main"
	if got != want {
		t.Errorf("StoreKey() = %q, want %q", got, want)
	}
}

func TestModelRefResidentKey(t *testing.T) {
	ref, err := NewModelRef("defog/sqlcoder-7b", "main", PrecisionHalf, false)
	if err != nil {
		t.Fatalf("NewModelRef: %v", err)
	}
	got := ref.ResidentKey()
	want := "defog/sqlcoder-7b@main#half"
	if got != want {
		t.Errorf("ResidentKey() = %q, want %q", got, want)
	}
}

func TestNewModelRefDefaultsPrecision(t *testing.T) {
	ref, err := NewModelRef("defog/sqlcoder-7b", "main", "", false)
	if err != nil {
		t.Fatalf("NewModelRef: %v", err)
	}
	if ref.Precision != PrecisionAuto {
		t.Errorf("Precision = %q, want %q", ref.Precision, PrecisionAuto)
	}
}
