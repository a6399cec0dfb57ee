package testkit

import (
	"context"
	"fmt"
	"net/url"
	"testing"

	"github.com/xokuso/peluquerias-app-sub000/internal/db"
	"github.com/xokuso/peluquerias-app-sub000/internal/migrate"
	"gorm.io/gorm"
)

// OpenTestDB returns a migrated in-memory sqlite database private to the test.
func OpenTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", url.QueryEscape(t.Name()))
	gdb, err := db.Open(context.Background(), db.Options{SQLitePath: dsn})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })

	if err := migrate.AutoMigrate(context.Background(), gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return gdb
}
