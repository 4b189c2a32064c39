package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dossiers/internal"
	"dossiers/internal/config"
	"dossiers/internal/docx"
)

// Merger combines the sheets of a folder into one dossier, then archives or
// deletes the individual sheets according to the cleanup policy.
type Merger struct {
	policy     string
	archiveDir string
	log        *slog.Logger
}

func NewMerger(policy, archiveDir string, log *slog.Logger) *Merger {
	if log == nil {
		log = slog.Default()
	}
	return &Merger{policy: policy, archiveDir: archiveDir, log: log}
}

// CombinedName is the first source's file name with its trailing "-suffix" removed.
func CombinedName(firstSource string) string {
	stem := strings.TrimSuffix(filepath.Base(firstSource), filepath.Ext(firstSource))
	if i := strings.LastIndex(stem, "-"); i > 0 {
		stem = stem[:i]
	}
	return stem + ".docx"
}

func (m *Merger) Merge(folder string, sources []string) (internal.MergedDossier, error) {
	if len(sources) == 0 {
		return internal.MergedDossier{}, errors.New("nothing to merge")
	}
	combined := filepath.Join(folder, CombinedName(sources[0]))

	doc, err := docx.Compose(sources)
	if err != nil {
		return internal.MergedDossier{}, fmt.Errorf("merge %s: %w", folder, err)
	}
	tmp := combined + ".tmp"
	if err := doc.Save(tmp); err != nil {
		_ = os.Remove(tmp)
		return internal.MergedDossier{}, fmt.Errorf("save %s: %w", combined, err)
	}

	if m.policy == config.CleanupDelete {
		// Sheets are only deleted once the dossier is in place.
		if err := os.Rename(tmp, combined); err != nil {
			return internal.MergedDossier{}, fmt.Errorf("rename %s: %w", combined, err)
		}
		for _, src := range sources {
			if filepath.Clean(src) != filepath.Clean(combined) {
				m.cleanup(folder, src)
			}
		}
	} else {
		// Archived sheets leave the folder first, since the combined name may be one of them.
		for _, src := range sources {
			m.cleanup(folder, src)
		}
		if err := os.Rename(tmp, combined); err != nil {
			return internal.MergedDossier{}, fmt.Errorf("rename %s: %w", combined, err)
		}
	}
	m.log.Info("fichier combiné créé", "path", combined, "sources", len(sources))

	return internal.MergedDossier{Folder: folder, Path: combined, Sources: sources}, nil
}

func (m *Merger) cleanup(folder, src string) {
	switch m.policy {
	case config.CleanupDelete:
		if err := os.Remove(src); err != nil {
			m.log.Warn("impossible de supprimer la fiche", "path", src, "error", err)
			return
		}
		m.log.Debug("fiche supprimée", "path", src)
	default:
		archive := filepath.Join(folder, m.archiveDir)
		if err := os.MkdirAll(archive, 0o755); err != nil {
			m.log.Warn("impossible de créer le dossier d'archives", "path", archive, "error", err)
			return
		}
		dest := filepath.Join(archive, filepath.Base(src))
		if err := os.Rename(src, dest); err != nil {
			m.log.Warn("impossible d'archiver la fiche", "path", src, "error", err)
			return
		}
		m.log.Debug("fiche archivée", "path", dest)
	}
}
