package textnorm

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Transferência recebida", "TRANSFERENCIA RECEBIDA"},
		{"TRANSFER�NCIA", "TRANSFER NCIA"},
		{"  pix   -  João ", "PIX - JOAO"},
		{"[Transfer entrada]", "[TRANSFER ENTRADA]"},
		{"TRANSF-1755722099059-SAIDA", "TRANSF-1755722099059-SAIDA"},
		{"Pagto. boleto #123", "PAGTO BOLETO 123"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("Pagamento a Fornecedor / NF 123")
	want := []string{"PAGAMENTO", "FORNECEDOR", "NF", "123"}
	if len(got) != len(want) {
		t.Fatalf("Tokens = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical after folding", "Aluguel Março", "ALUGUEL MARCO", 1, 1},
		{"containment", "Energia", "Conta de energia agosto", 0.5, 1},
		{"unrelated", "Aluguel", "Supermercado", 0, 0.5},
		{"empty", "", "anything", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Errorf("Similarity(%q, %q) = %.3f, want in [%.2f, %.2f]", tt.a, tt.b, got, tt.min, tt.max)
			}
			if back := Similarity(tt.b, tt.a); back != got {
				t.Errorf("Similarity should be symmetric: %.3f vs %.3f", got, back)
			}
		})
	}
}
