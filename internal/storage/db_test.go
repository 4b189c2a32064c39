package storage

import (
	"path/filepath"
	"testing"
	"time"

	"dossiers/internal"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunLedgerReport(t *testing.T) {
	db := openTestDB(t)

	runID, err := db.StartRun("infractions.csv", 3)
	if err != nil {
		t.Fatal(err)
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(db.RecordSheet(runID, internal.GeneratedSheet{RowIndex: 2, Identifier: "LY-002", Folder: "/out/69 LYON/02 Infractions", Path: "/out/69 LYON/02 Infractions/LY-002.docx", Status: internal.SheetGenerated}))
	must(db.RecordSheet(runID, internal.GeneratedSheet{RowIndex: 0, Identifier: "LY-001", Folder: "/out/69 LYON/02 Infractions", Path: "/out/69 LYON/02 Infractions/LY-001.docx", Status: internal.SheetGenerated}))
	must(db.RecordSheet(runID, internal.GeneratedSheet{RowIndex: 1, Identifier: "AT-1", Status: internal.SheetSkipped, Error: "boom"}))
	must(db.RecordLetter(runID, internal.GeneratedLetter{Key: internal.MunicipalityKey{Department: "69", City: "Lyon"}, LetterPath: "/l.docx", RecipientsPath: "/d.txt", SheetCount: 2}))
	must(db.RecordMerge(runID, internal.MergedDossier{Folder: "/out/69 LYON/02 Infractions", Path: "/out/69 LYON/02 Infractions/LY.docx", Sources: []string{"a", "b"}}))
	must(db.RecordFailure(runID, internal.Failure{Scope: internal.ScopeMunicipality, Key: "75 Atlantis", Reason: "commune not found"}))
	must(db.FinishRun(runID, "done", map[string]int{"sheets": 2}))

	rows, err := db.ReportRows(runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 6 {
		t.Fatalf("rows=%+v", rows)
	}
	if rows[0].Identifier != "LY-001" || rows[1].Identifier != "AT-1" || rows[2].Identifier != "LY-002" {
		t.Fatalf("sheets out of row order: %+v", rows[:3])
	}
	if rows[3].Kind != "letter" || rows[3].Key != "69 Lyon" || rows[3].Detail != "2 fiches" {
		t.Fatalf("letter row=%+v", rows[3])
	}
	if rows[4].Kind != "merge" || rows[4].Detail != "2 sources" {
		t.Fatalf("merge row=%+v", rows[4])
	}
	if rows[5].Kind != "failure" || rows[5].Status != "municipality" {
		t.Fatalf("failure row=%+v", rows[5])
	}

	run, err := db.GetRun(runID)
	if err != nil || run == nil {
		t.Fatalf("run=%v err=%v", run, err)
	}
	if run.Status != "done" || run.Stats["sheets"] != 2 || run.FinishedAt == nil {
		t.Fatalf("run=%+v", run)
	}
	last, err := db.LastRunID()
	if err != nil || last != runID {
		t.Fatalf("last=%d err=%v", last, err)
	}
}

func TestCommuneCache(t *testing.T) {
	db := openTestDB(t)

	got, err := db.CachedCommune("Lyon", "69001", time.Hour)
	if err != nil || got != nil {
		t.Fatalf("got=%v err=%v", got, err)
	}

	entry := internal.CachedCommune{City: "Lyon", PostalCode: "69001", INSEE: "69123", Name: "Lyon", Population: 520000, TownHallLines: "1 place de la Comédie", ResolvedAt: time.Now().Add(-2 * time.Hour)}
	if err := db.StoreCommune(entry); err != nil {
		t.Fatal(err)
	}
	if got, _ := db.CachedCommune("Lyon", "69001", time.Hour); got != nil {
		t.Fatal("stale entry should be ignored")
	}
	got, err = db.CachedCommune("Lyon", "69001", 0)
	if err != nil || got == nil || got.INSEE != "69123" || got.TownHallLines != "1 place de la Comédie" {
		t.Fatalf("got=%+v err=%v", got, err)
	}

	entry.ResolvedAt = time.Now()
	entry.TownHallLines = "Hôtel de Ville"
	if err := db.StoreCommune(entry); err != nil {
		t.Fatal(err)
	}
	got, _ = db.CachedCommune("Lyon", "69001", time.Hour)
	if got == nil || got.TownHallLines != "Hôtel de Ville" {
		t.Fatalf("got=%+v", got)
	}
}

func TestImports(t *testing.T) {
	db := openTestDB(t)
	seen, err := db.HasImport("abc")
	if err != nil || seen {
		t.Fatalf("seen=%v err=%v", seen, err)
	}
	if err := db.RecordImport("abc", "/in/a.csv", 1); err != nil {
		t.Fatal(err)
	}
	if seen, _ := db.HasImport("abc"); !seen {
		t.Fatal("import should be known")
	}
	if id, err := db.LastRunID(); err != nil || id != 0 {
		t.Fatalf("id=%d err=%v", id, err)
	}
}
