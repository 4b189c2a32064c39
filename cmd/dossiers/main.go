package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"dossiers/internal/commune"
	"dossiers/internal/config"
	"dossiers/internal/dataset"
	"dossiers/internal/listener"
	"dossiers/internal/logging"
	"dossiers/internal/pipeline"
	"dossiers/internal/refdata"
	"dossiers/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "init" {
		runInit(cfg)
		return
	}

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "run":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", cfg.InputDir, "dataset file (.csv/.xlsx) or directory")
		output := fs.String("output", "", "output directory (default OUTPUT_DIR)")
		report := fs.String("report", "", "optional xlsx report path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*output) != "" {
			cfg.OutputDir = *output
		}

		records, err := dataset.NewLoader(log).Load(*input)
		must(err)
		svc := newService(cfg, db, log)
		res, err := svc.Run(ctx, filepath.Base(*input), records)
		must(err)
		printSummary(res)
		if strings.TrimSpace(*report) != "" {
			must(pipeline.ExportReportToXLSX(res.Report(), *report))
			fmt.Printf("report written to %s\n", *report)
		}
	case "commune:resolve":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		city := fs.String("ville", "", "city name")
		postalCode := fs.String("cp", "", "postal code")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*city) == "" || strings.TrimSpace(*postalCode) == "" {
			must(fmt.Errorf("--ville and --cp are required"))
		}
		a, err := newResolver(cfg, db, log).Resolve(ctx, *city, *postalCode)
		must(err)
		fmt.Printf("ville=%s cp=%s insee=%s\n", a.City, a.PostalCode, a.INSEE)
		fmt.Printf("mairie=%s\n", a.TownHallLines)
		fmt.Printf("maire=%s %s (%s)\n", a.Mayor.FirstName, a.Mayor.LastName, a.Mayor.Gender)
	case "export:report":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		runID := fs.Int64("run", 0, "run id (default: last finished run)")
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--out is required"))
		}
		id := *runID
		if id == 0 {
			id, err = db.LastRunID()
			must(err)
		}
		run, err := db.GetRun(id)
		must(err)
		if run == nil {
			must(fmt.Errorf("run not found: %d", id))
		}
		rows, err := db.ReportRows(id)
		must(err)
		if len(rows) == 0 {
			must(fmt.Errorf("no report rows for run=%d", id))
		}
		must(pipeline.ExportReportToXLSX(rows, *out))
		fmt.Printf("exported %d rows of run %d (%s, %s) to %s\n", len(rows), id, run.Source, run.Status, *out)
	case "watch":
		svc := listener.NewService(db, dataset.NewLoader(log), newService(cfg, db, log), cfg, log)
		must(svc.Run(ctx))
	default:
		usage()
		os.Exit(1)
	}
}

func newService(cfg config.Config, db *storage.DB, log *slog.Logger) *pipeline.Service {
	must(cfg.Require("SHEET_TEMPLATE", cfg.SheetTemplate))
	must(cfg.Require("LETTER_TEMPLATE", cfg.LetterTemplate))
	must(cfg.Require("CASE_TEMPLATE_DIR", cfg.CaseTemplateDir))
	departments, err := refdata.LoadDepartments(cfg.DepartmentsCSV)
	must(err)
	return pipeline.NewService(cfg, departments, newResolver(cfg, db, log), db, log)
}

func newResolver(cfg config.Config, db *storage.DB, log *slog.Logger) *commune.Resolver {
	mayors, err := refdata.LoadMayors(cfg.RNECSV)
	if err != nil {
		log.Error("RNE introuvable, maires inconnus", "path", cfg.RNECSV, "error", err)
	}
	var cache commune.Cache
	if cfg.CommuneCacheEnabled {
		cache = db
	}
	ttl := time.Duration(cfg.CommuneCacheTTLHours) * time.Hour
	return commune.NewResolver(commune.NewClient(cfg), mayors, cache, ttl, log)
}

func runInit(cfg config.Config) {
	for _, dir := range []string{
		cfg.InputDir,
		cfg.OutputDir,
		filepath.Join(cfg.CaseTemplateDir, pipeline.PhotosDir),
		filepath.Join(cfg.CaseTemplateDir, pipeline.InfractionsDir),
		filepath.Join(cfg.CaseTemplateDir, pipeline.LettersDir),
	} {
		must(os.MkdirAll(dir, 0o755))
	}
	wrote, err := pipeline.WriteIfMissing(cfg.SheetTemplate, pipeline.StarterSheetTemplate)
	must(err)
	if wrote {
		fmt.Printf("sheet template written to %s\n", cfg.SheetTemplate)
	}
	wrote, err = pipeline.WriteIfMissing(cfg.LetterTemplate, pipeline.StarterLetterTemplate)
	must(err)
	if wrote {
		fmt.Printf("letter template written to %s\n", cfg.LetterTemplate)
	}
	fmt.Println("init done")
}

func printSummary(res pipeline.RunResult) {
	stats := res.Stats()
	fmt.Printf("run=%d sheets=%d skipped=%d letters=%d dossiers=%d failures=%d\n",
		res.RunID, stats["sheets"], stats["skipped"], stats["letters"], stats["merged"], stats["failures"])
	for _, f := range res.Failures {
		fmt.Printf("  [%s] %s: %s\n", f.Scope, f.Key, f.Reason)
	}
}

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  dossiers init")
	fmt.Println("  dossiers run [--input=<file|dir>] [--output=<dir>] [--report=<xlsx>]")
	fmt.Println("  dossiers commune:resolve --ville=<name> --cp=<postal code>")
	fmt.Println("  dossiers export:report [--run=<id>] --out=<xlsx>")
	fmt.Println("  dossiers watch")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
