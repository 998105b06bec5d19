package db

import "testing"

func TestToMigrateURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "postgres scheme",
			in:   "postgres://app:pw@localhost:5432/twins?sslmode=disable",
			want: "pgx5://app:pw@localhost:5432/twins?sslmode=disable",
		},
		{
			name: "postgresql scheme",
			in:   "postgresql://app:pw@db.internal/twins",
			want: "pgx5://app:pw@db.internal/twins",
		},
		{
			name:    "unsupported scheme",
			in:      "mysql://app:pw@localhost/twins",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toMigrateURL(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("toMigrateURL: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
