package index

import "testing"

func TestCheckBatch(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		vectors [][]float32
		ids     []int64
		dim     int
		wantErr bool
	}{
		{"empty", nil, nil, 0, false},
		{"ok", [][]float32{{1, 0}, {0, 1}}, []int64{1, 2}, 2, false},
		{"length mismatch", [][]float32{{1, 0}}, []int64{1, 2}, 0, true},
		{"ragged", [][]float32{{1, 0}, {1}}, []int64{1, 2}, 0, true},
		{"zero dim", [][]float32{{}}, []int64{1}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dim, err := CheckBatch(tt.vectors, tt.ids)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if dim != tt.dim {
				t.Errorf("dim = %d, want %d", dim, tt.dim)
			}
		})
	}
}

func TestDot(t *testing.T) {
	t.Parallel()
	if got := Dot([]float32{1, 2, 3}, []float32{4, 5, 6}); got != 32 {
		t.Errorf("Dot = %v, want 32", got)
	}
	if got := Dot([]float32{1, 2}, []float32{3}); got != 3 {
		t.Errorf("Dot over shorter length = %v, want 3", got)
	}
}
