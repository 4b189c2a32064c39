package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"dossiers/internal"
	"dossiers/internal/commune"
	"dossiers/internal/config"
	"dossiers/internal/logging"
	"dossiers/internal/util"
)

// Ledger records what a run produced. storage.DB implements it.
type Ledger interface {
	StartRun(source string, rows int) (int64, error)
	RecordSheet(runID int64, sheet internal.GeneratedSheet) error
	RecordLetter(runID int64, letter internal.GeneratedLetter) error
	RecordMerge(runID int64, merged internal.MergedDossier) error
	RecordFailure(runID int64, failure internal.Failure) error
	FinishRun(runID int64, status string, stats map[string]int) error
}

type RunResult struct {
	RunID    int64
	Sheets   []internal.GeneratedSheet
	Letters  []internal.GeneratedLetter
	Merged   []internal.MergedDossier
	Failures []internal.Failure
}

// Service runs the whole generation over a dataset: sheets in input order,
// one letter per commune, then one merged dossier per infractions folder.
type Service struct {
	cfg         config.Config
	departments DepartmentNames
	resolver    AddresseeResolver
	ledger      Ledger
	log         *slog.Logger
	now         func() time.Time
}

// NewService builds the orchestrator. ledger may be nil.
func NewService(cfg config.Config, departments DepartmentNames, resolver AddresseeResolver, ledger Ledger, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, departments: departments, resolver: resolver, ledger: ledger, log: log, now: time.Now}
}

func (s *Service) Run(ctx context.Context, source string, records []internal.InfractionRecord) (RunResult, error) {
	now := s.now()
	res := RunResult{}
	if s.ledger != nil {
		id, err := s.ledger.StartRun(source, len(records))
		if err != nil {
			return res, fmt.Errorf("start run: %w", err)
		}
		res.RunID = id
	}
	log := s.log.With("run", res.RunID)

	groups := BuildGroups(records)
	images := NewImageFetcher(time.Duration(s.cfg.ImageTimeoutMs)*time.Millisecond, log)
	sheets := NewSheetGenerator(SheetOptions{
		Template:     s.cfg.SheetTemplate,
		OutputDir:    s.cfg.OutputDir,
		Skeleton:     s.cfg.CaseTemplateDir,
		ImageWidthMM: s.cfg.ImageWidthMM,
		Date:         util.FrenchDate(now),
	}, s.departments, images, log)
	letters := NewLetterGenerator(s.cfg.LetterTemplate, s.cfg.OutputDir, s.resolver, now, log)
	merger := NewMerger(s.cfg.MergeCleanup, s.cfg.ArchiveDirName, log)

	log.Info("début de la génération des fiches individuelles", "lignes", len(records), "communes", len(groups))
	byFolder := map[string][]string{}
	folders := []string{}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return s.finish(res, "cancelled", log), err
		}
		sheet, err := sheets.Generate(ctx, rec)
		if err != nil {
			log.Error("erreur lors de la génération de la fiche", "fiche", rec.Name, "index", rec.Index, "error", err)
			sheet = internal.GeneratedSheet{RowIndex: rec.Index, Identifier: rec.Name, Status: internal.SheetSkipped, Error: err.Error()}
			s.fail(&res, internal.ScopeRow, rec.Name+"#"+strconv.Itoa(rec.Index), err, log)
		} else {
			if _, ok := byFolder[sheet.Folder]; !ok {
				folders = append(folders, sheet.Folder)
			}
			byFolder[sheet.Folder] = append(byFolder[sheet.Folder], sheet.Path)
		}
		res.Sheets = append(res.Sheets, sheet)
		s.record(log, func() error { return s.ledger.RecordSheet(res.RunID, sheet) })
	}
	log.Info("traitement des fiches terminé")

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return s.finish(res, "cancelled", log), err
		}
		letter, err := letters.Generate(ctx, group)
		if err != nil {
			if errors.Is(err, commune.ErrCommuneNotFound) {
				log.Warn("commune introuvable, courrier ignoré", "commune", keyString(group.Key), "error", err)
			} else {
				log.Error("échec de la génération du courrier", "commune", keyString(group.Key), "error", err)
			}
			s.fail(&res, internal.ScopeMunicipality, keyString(group.Key), err, log)
			continue
		}
		res.Letters = append(res.Letters, letter)
		s.record(log, func() error { return s.ledger.RecordLetter(res.RunID, letter) })
	}

	for _, folder := range folders {
		merged, err := merger.Merge(folder, byFolder[folder])
		if err != nil {
			log.Error("échec de la fusion", "folder", folder, "error", err)
			s.fail(&res, internal.ScopeMerge, folder, err, log)
			continue
		}
		res.Merged = append(res.Merged, merged)
		s.record(log, func() error { return s.ledger.RecordMerge(res.RunID, merged) })
	}

	return s.finish(res, "done", log), nil
}

func (s *Service) fail(res *RunResult, scope internal.FailureScope, key string, err error, log *slog.Logger) {
	f := internal.Failure{Scope: scope, Key: key, Reason: err.Error()}
	res.Failures = append(res.Failures, f)
	s.record(log, func() error { return s.ledger.RecordFailure(res.RunID, f) })
}

func (s *Service) record(log *slog.Logger, write func() error) {
	if s.ledger == nil {
		return
	}
	if err := write(); err != nil {
		log.Warn("écriture du journal d'exécution impossible", "error", err)
	}
}

func (s *Service) finish(res RunResult, status string, log *slog.Logger) RunResult {
	stats := res.Stats()
	s.record(log, func() error { return s.ledger.FinishRun(res.RunID, status, stats) })
	logging.Success(log, "génération terminée",
		"fiches", stats["sheets"], "ignorées", stats["skipped"],
		"courriers", stats["letters"], "dossiers", stats["merged"], "échecs", stats["failures"])
	return res
}

func (r RunResult) Stats() map[string]int {
	generated := 0
	for _, s := range r.Sheets {
		if s.Status == internal.SheetGenerated {
			generated++
		}
	}
	return map[string]int{
		"sheets":   generated,
		"skipped":  len(r.Sheets) - generated,
		"letters":  len(r.Letters),
		"merged":   len(r.Merged),
		"failures": len(r.Failures),
	}
}

// Report flattens the result into export rows.
func (r RunResult) Report() []internal.ReportRow {
	rows := []internal.ReportRow{}
	for _, s := range r.Sheets {
		rows = append(rows, internal.ReportRow{Kind: "sheet", Key: strconv.Itoa(s.RowIndex), Identifier: s.Identifier, Path: s.Path, Status: string(s.Status), Detail: s.Error})
	}
	for _, l := range r.Letters {
		rows = append(rows, internal.ReportRow{Kind: "letter", Key: keyString(l.Key), Path: l.LetterPath, Status: "generated", Detail: fmt.Sprintf("%d fiches", l.SheetCount)})
	}
	for _, m := range r.Merged {
		rows = append(rows, internal.ReportRow{Kind: "merge", Key: m.Folder, Path: m.Path, Status: "generated", Detail: fmt.Sprintf("%d sources", len(m.Sources))})
	}
	for _, f := range r.Failures {
		rows = append(rows, internal.ReportRow{Kind: "failure", Key: f.Key, Status: string(f.Scope), Detail: f.Reason})
	}
	return rows
}
