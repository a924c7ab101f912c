package main

import "testing"

func TestGetDiskUsage(t *testing.T) {
	total, used, available, err := getDiskUsage(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка getDiskUsage: %v", err)
	}
	if total <= 0 || available < 0 || used < 0 || used > total {
		t.Errorf("некорректные значения: total=%d used=%d available=%d", total, used, available)
	}

	if _, _, _, err := getDiskUsage("/nonexistent/projecthub"); err == nil {
		t.Error("ожидалась ошибка для несуществующего пути")
	}
}

func TestLowDiskSpace(t *testing.T) {
	tests := []struct {
		name      string
		available int64
		maxUpload int64
		want      bool
	}{
		{"достаточно", 1 << 30, 500 << 20, false},
		{"ровно лимит", 500 << 20, 500 << 20, false},
		{"мало", 100 << 20, 500 << 20, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lowDiskSpace(tt.available, tt.maxUpload); got != tt.want {
				t.Errorf("lowDiskSpace(%d, %d) = %v, want %v", tt.available, tt.maxUpload, got, tt.want)
			}
		})
	}
}
