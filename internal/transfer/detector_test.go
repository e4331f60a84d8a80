package transfer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetector_IsTransfer(t *testing.T) {
	d := Default()

	tests := []struct {
		name        string
		externalID  string
		description string
		expected    bool
	}{
		{"transf prefix in description", "98231", "TRANSF-1755722099059-SAIDA", true},
		{"transf prefix in external id", "transf-1755722099059-entrada", "", true},
		{"accented transferencia", "1", "Transferência enviada", true},
		{"unaccented transferencia", "1", "transferencia recebida", true},
		{"lost accent", "1", "TRANSFER NCIA RECEBIDA", true},
		{"replacement char", "1", "TRANSFER�NCIA", true},
		{"latin1 mojibake", "1", "TRANSFERÃŠNCIA", true},
		{"ted word", "1", "TED 001 Banco X", true},
		{"doc word", "1", "doc recebido", true},
		{"pix word", "1", "Pix enviado - Maria", true},
		{"bracket tag", "1", "[Transfer Conta 2 SAÍDA]", true},
		{"pix inside word", "1", "PIXEL STUDIO LTDA", false},
		{"ted inside word", "1", "TEDDY BEAR STORE", false},
		{"ordinary expense", "452993", "Supermercado Bom Preco", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.IsTransfer(tt.externalID, tt.description); got != tt.expected {
				t.Errorf("IsTransfer(%q, %q) = %v, want %v", tt.externalID, tt.description, got, tt.expected)
			}
		})
	}
}

func TestDetector_DetectReportsRule(t *testing.T) {
	rule, ok := Default().Detect("", "TRANSF-1755722099059-SAIDA")
	if !ok {
		t.Fatal("expected a rule to fire")
	}
	if rule.Label != "transf-prefix" {
		t.Errorf("expected transf-prefix rule, got %q", rule.Label)
	}
}

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()
	if table.Version != 1 {
		t.Errorf("expected version 1, got %d", table.Version)
	}
	if len(table.Rules) < 6 {
		t.Errorf("expected at least 6 rules, got %d", len(table.Rules))
	}
}

func TestParseTable_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no version", `[[rule]]
label = "x"
kind = "contains"
pattern = "X"`},
		{"no rules", `version = 1`},
		{"bad kind", `version = 1
[[rule]]
label = "x"
kind = "glob"
pattern = "X*"`},
		{"bad regex", `version = 1
[[rule]]
label = "x"
kind = "regex"
pattern = "(unclosed"`},
		{"empty pattern", `version = 1
[[rule]]
label = "x"
kind = "contains"
pattern = ""`},
		{"not toml", `version = [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTable([]byte(tt.data)); err == nil {
				t.Error("expected error but got none")
			}
		})
	}
}

func TestLoadTable_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.toml")
	data := `version = 2

[[rule]]
label = "internal"
kind = "contains"
pattern = "mesma titularidade"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("failed to write table: %v", err)
	}

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	d, err := NewDetector(table)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}
	if d.Version() != 2 {
		t.Errorf("expected version 2, got %d", d.Version())
	}
	if !d.IsTransfer("", "Transf. mesma titularidade") {
		t.Error("expected override rule to match")
	}
	if d.IsTransfer("", "PIX enviado") {
		t.Error("override table should replace the built-in rules")
	}
}

func TestLoadTable_MissingFile(t *testing.T) {
	if _, err := LoadTable(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}
