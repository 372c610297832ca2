package database

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	if err := db.Exec("SELECT 1").Error; err != nil {
		t.Fatalf("expected health query to succeed: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestPrepareCreatesTables(t *testing.T) {
	db := openTestDB(t)

	if err := Prepare(db); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	migrator := db.Migrator()
	for _, table := range []any{
		&models.ClassSession{},
		&models.AttendanceRecord{},
		&models.ViolationRecord{},
		&models.SystemSetting{},
	} {
		if !migrator.HasTable(table) {
			t.Fatalf("expected table for %T to exist", table)
		}
	}

	if err := Prepare(nil); err == nil {
		t.Fatal("expected error for nil handle")
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString()),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
