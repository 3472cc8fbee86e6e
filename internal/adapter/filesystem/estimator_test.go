package filesystem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/vertextoedge/convert-cache/internal/domain"
)

func TestEstimator_Estimate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("statfs not available")
	}

	root := t.TempDir()
	est, err := NewEstimator(filepath.Join(root, "cache"))
	if err != nil {
		t.Fatalf("NewEstimator() error = %v", err)
	}

	files := map[string]int{
		"cache.db":        1024,
		"cache.db-wal":    512,
		"nested/blob.bin": 2048,
	}
	for name, size := range files {
		p := filepath.Join(est.RootDir(), name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, make([]byte, size), 0644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := est.Estimate(context.Background())
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if got.UsageBytes != 1024+512+2048 {
		t.Errorf("UsageBytes = %d, want %d", got.UsageBytes, 1024+512+2048)
	}
	if got.QuotaBytes <= 0 {
		t.Errorf("QuotaBytes = %d, want > 0", got.QuotaBytes)
	}
}

func TestEstimator_EmptyDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("statfs not available")
	}

	est, err := NewEstimator(t.TempDir())
	if err != nil {
		t.Fatalf("NewEstimator() error = %v", err)
	}
	got, err := est.Estimate(context.Background())
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if got.UsageBytes != 0 {
		t.Errorf("UsageBytes = %d, want 0", got.UsageBytes)
	}
}

func TestEstimator_QuotaUnsupportedKeepsUsage(t *testing.T) {
	orig := volumeTotal
	t.Cleanup(func() { volumeTotal = orig })

	tests := []struct {
		name      string
		quotaErr  error
		wantErr   bool
		wantUsage int64
	}{
		{name: "unsupported quota", quotaErr: domain.ErrEstimateUnsupported, wantUsage: 4096},
		{name: "statfs failure", quotaErr: errors.New("io error"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			volumeTotal = func(string) (int64, error) { return 0, tt.quotaErr }

			est, err := NewEstimator(t.TempDir())
			if err != nil {
				t.Fatalf("NewEstimator() error = %v", err)
			}
			if err := os.WriteFile(filepath.Join(est.RootDir(), "cache.db"), make([]byte, 4096), 0644); err != nil {
				t.Fatal(err)
			}

			got, err := est.Estimate(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Estimate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.UsageBytes != tt.wantUsage || got.QuotaBytes != 0 {
				t.Errorf("Estimate() = %+v, want usage %d and quota 0", got, tt.wantUsage)
			}
		})
	}
}
