package listener

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dossiers/internal"
	"dossiers/internal/config"
	"dossiers/internal/dataset"
	"dossiers/internal/pipeline"
)

const MetaLastCycle = "watch.last_cycle"

type Runner interface {
	Run(ctx context.Context, source string, records []internal.InfractionRecord) (pipeline.RunResult, error)
}

type ImportStore interface {
	HasImport(hash string) (bool, error)
	RecordImport(hash, path string, runID int64) error
	SetMetadata(key, value string) error
}

// Service polls the input directory and runs the pipeline once per new dataset file.
// Files are identified by content hash, so a renamed copy is not processed twice.
type Service struct {
	store    ImportStore
	loader   *dataset.Loader
	runner   Runner
	dir      string
	interval time.Duration
	log      *slog.Logger
}

func NewService(store ImportStore, loader *dataset.Loader, runner Runner, cfg config.Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	interval := time.Duration(cfg.WatchIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Service{store: store, loader: loader, runner: runner, dir: cfg.InputDir, interval: interval, log: log}
}

func (s *Service) Run(ctx context.Context) error {
	s.log.Info("surveillance du dossier d'entrée", "dir", s.dir, "interval", s.interval)
	for {
		if _, err := s.RunCycle(ctx); err != nil {
			s.log.Error("cycle de surveillance en échec", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.interval):
		}
	}
}

// RunCycle processes every dataset file not seen before and returns how many were run.
func (s *Service) RunCycle(ctx context.Context) (int, error) {
	files, err := dataset.Files(s.dir)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		hash, err := fileHash(file)
		if err != nil {
			s.log.Warn("lecture du fichier impossible", "path", file, "error", err)
			continue
		}
		seen, err := s.store.HasImport(hash)
		if err != nil {
			return processed, err
		}
		if seen {
			continue
		}

		runID, err := s.process(ctx, file)
		if err != nil {
			if ctx.Err() != nil {
				return processed, err
			}
			s.log.Error("import en échec", "path", file, "error", err)
		} else {
			processed++
		}
		if err := s.store.RecordImport(hash, file, runID); err != nil {
			return processed, err
		}
	}

	if err := s.store.SetMetadata(MetaLastCycle, time.Now().UTC().Format(time.RFC3339)); err != nil {
		s.log.Warn("écriture des métadonnées impossible", "error", err)
	}
	if processed > 0 {
		s.log.Info("cycle de surveillance terminé", "fichiers", processed)
	}
	return processed, nil
}

func (s *Service) process(ctx context.Context, file string) (int64, error) {
	records, err := s.loader.Load(file)
	if err != nil {
		return 0, fmt.Errorf("load: %w", err)
	}
	res, err := s.runner.Run(ctx, filepath.Base(file), records)
	return res.RunID, err
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
