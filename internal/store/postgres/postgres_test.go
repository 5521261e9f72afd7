package postgres

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://u@h/db", Host: "ignored"},
			want: "postgres://u@h/db",
		},
		{
			name: "fields with defaults",
			cfg:  ClientConfig{Host: "db", Database: "poolbot", User: "bot", Password: "pw"},
			want: "postgres://bot:pw@db:5432/poolbot?sslmode=disable",
		},
		{
			name: "custom port and ssl",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "x", User: "u", SSLMode: "require"},
			want: "postgres://u@db:6543/x?sslmode=require",
		},
		{
			name: "password is escaped",
			cfg:  ClientConfig{Host: "db", Database: "x", User: "u", Password: "p@ss/w"},
			want: "postgres://u:p%40ss%2Fw@db:5432/x?sslmode=disable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestListQuery(t *testing.T) {
	since := time.Unix(100, 0)
	query, args := listQuery("SELECT * FROM bot_trades WHERE market_id = $1", "created_at",
		[]any{"7"}, domain.ListOpts{Since: &since, Limit: 20, Offset: 40})

	want := "SELECT * FROM bot_trades WHERE market_id = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4"
	if query != want {
		t.Errorf("query =\n%s\nwant\n%s", query, want)
	}
	if !reflect.DeepEqual(args, []any{"7", since, 20, 40}) {
		t.Errorf("args = %v", args)
	}
}

func TestListQueryNoFilters(t *testing.T) {
	query, args := listQuery("SELECT 1 FROM audit_log WHERE TRUE", "created_at", nil, domain.ListOpts{})
	if !strings.HasSuffix(query, "ORDER BY created_at DESC") {
		t.Errorf("query = %q", query)
	}
	if len(args) != 0 {
		t.Errorf("args = %v", args)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	for _, table := range []string{"bot_trades", "audit_log"} {
		if !strings.Contains(string(data), table) {
			t.Errorf("migration does not create %s", table)
		}
	}
}

func TestMigrationFilesSorted(t *testing.T) {
	files, err := migrationFiles()
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	if len(files) == 0 || files[0] != "migrations/001_init.sql" {
		t.Fatalf("files = %v", files)
	}
	for i := 1; i < len(files); i++ {
		if files[i-1] >= files[i] {
			t.Errorf("files out of order: %v", files)
		}
	}
}
