package persistence

import (
	"testing"
	"time"

	"trading-engine/pkg/db"
)

func testDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	if _, err := database.DB.Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`); err != nil {
		t.Fatal(err)
	}
	return database
}

func countRows(t *testing.T, database *db.Database) int {
	t.Helper()
	var n int
	if err := database.DB.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestFlushWritesBuffered(t *testing.T) {
	database := testDB(t)
	bw := NewBatchWriter(database.DB, 100, time.Hour, nil)
	defer bw.Close()

	bw.Write(`INSERT INTO kv (k, v) VALUES (?, ?)`, "a", "1")
	bw.Write(`INSERT INTO kv (k, v) VALUES (?, ?)`, "b", "2")
	if bw.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", bw.Pending())
	}
	if countRows(t, database) != 0 {
		t.Fatal("rows visible before flush")
	}

	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}
	if countRows(t, database) != 2 {
		t.Fatalf("rows = %d, want 2", countRows(t, database))
	}
	if bw.Pending() != 0 {
		t.Fatalf("pending = %d after flush", bw.Pending())
	}

	stats := bw.Stats()
	if stats.TotalWrites != 2 || stats.TotalBatches != 1 || stats.TotalErrors != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestWriteFlushesAtCapacity(t *testing.T) {
	database := testDB(t)
	bw := NewBatchWriter(database.DB, 3, time.Hour, nil)
	defer bw.Close()

	for i, k := range []string{"a", "b", "c"} {
		bw.Write(`INSERT INTO kv (k, v) VALUES (?, ?)`, k, i)
	}
	if countRows(t, database) != 3 {
		t.Fatalf("rows = %d, want 3 after size-triggered flush", countRows(t, database))
	}
}

func TestBackgroundFlush(t *testing.T) {
	database := testDB(t)
	bw := NewBatchWriter(database.DB, 100, 20*time.Millisecond, nil)
	defer bw.Close()

	bw.Write(`INSERT INTO kv (k, v) VALUES (?, ?)`, "a", "1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if countRows(t, database) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timer never flushed the buffer")
}

func TestBadStatementRollsBack(t *testing.T) {
	database := testDB(t)
	bw := NewBatchWriter(database.DB, 100, time.Hour, nil)
	defer bw.Close()

	bw.Write(`INSERT INTO kv (k, v) VALUES (?, ?)`, "a", "1")
	bw.Write(`INSERT INTO missing_table (k) VALUES (?)`, "boom")

	if err := bw.Flush(); err == nil {
		t.Fatal("flush of a bad statement succeeded")
	}
	// The whole transaction rolled back, including the good row.
	if countRows(t, database) != 0 {
		t.Fatalf("rows = %d, want 0 after rollback", countRows(t, database))
	}
	if bw.Stats().TotalErrors != 1 {
		t.Fatalf("stats = %+v, want one error", bw.Stats())
	}
}

func TestCloseFlushesRemainder(t *testing.T) {
	database := testDB(t)
	bw := NewBatchWriter(database.DB, 100, time.Hour, nil)

	bw.Write(`INSERT INTO kv (k, v) VALUES (?, ?)`, "a", "1")
	if err := bw.Close(); err != nil {
		t.Fatal(err)
	}
	if countRows(t, database) != 1 {
		t.Fatalf("rows = %d, want 1 after close", countRows(t, database))
	}
}
