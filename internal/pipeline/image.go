package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const placeholderSize = 500

// ImageFetcher downloads row photos, falling back to a blank placeholder.
type ImageFetcher struct {
	client *http.Client
	log    *slog.Logger
}

func NewImageFetcher(timeout time.Duration, log *slog.Logger) *ImageFetcher {
	if log == nil {
		log = slog.Default()
	}
	return &ImageFetcher{client: &http.Client{Timeout: timeout}, log: log}
}

// Fetch stores the image at url into dest and returns dest. On any failure it
// returns fallback, creating the placeholder there if needed. It never fails.
func (f *ImageFetcher) Fetch(ctx context.Context, url, dest, fallback string) string {
	if url == "" {
		f.log.Error("aucune URL d'image fournie", "destination", filepath.Base(dest))
		return f.placeholder(fallback)
	}
	if err := f.download(ctx, url, dest); err != nil {
		f.log.Error("échec du téléchargement de l'image", "url", url, "error", err)
		return f.placeholder(fallback)
	}
	return dest
}

func (f *ImageFetcher) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status code %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, body, 0o644)
}

func (f *ImageFetcher) placeholder(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if err := WritePlaceholder(path); err != nil {
		f.log.Error("impossible de créer l'image par défaut", "path", path, "error", err)
	}
	return path
}

// WritePlaceholder writes a white square JPEG.
func WritePlaceholder(path string) error {
	img := image.NewRGBA(image.Rect(0, 0, placeholderSize, placeholderSize))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: 90}); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
