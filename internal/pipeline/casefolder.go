package pipeline

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	PhotosDir      = "01 Photos"
	InfractionsDir = "02 Infractions"
	LettersDir     = "03 Courriers"
)

// CaseFolder is the output tree of one commune.
type CaseFolder struct {
	Root        string
	Photos      string
	Infractions string
	Letters     string
}

func FolderName(department, city string) string {
	return department + " " + strings.ToUpper(city)
}

func caseFolderAt(root string) CaseFolder {
	return CaseFolder{
		Root:        root,
		Photos:      filepath.Join(root, PhotosDir),
		Infractions: filepath.Join(root, InfractionsDir),
		Letters:     filepath.Join(root, LettersDir),
	}
}

// EnsureCaseFolder copies the skeleton into a missing case folder, then makes
// sure the three subfolders exist. An existing folder is reused as is.
func EnsureCaseFolder(outputDir, skeleton, department, city string) (CaseFolder, error) {
	cf := caseFolderAt(filepath.Join(outputDir, FolderName(department, city)))

	if _, err := os.Stat(cf.Root); errors.Is(err, fs.ErrNotExist) {
		if info, serr := os.Stat(skeleton); serr == nil && info.IsDir() {
			if err := copyDir(skeleton, cf.Root); err != nil {
				return CaseFolder{}, err
			}
		}
	} else if err != nil {
		return CaseFolder{}, err
	}

	for _, dir := range []string{cf.Photos, cf.Infractions, cf.Letters} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return CaseFolder{}, err
		}
	}
	return cf, nil
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
