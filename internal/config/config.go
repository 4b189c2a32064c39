package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	CleanupArchive = "archive"
	CleanupDelete  = "delete"
)

type Config struct {
	DBPath    string
	InputDir  string
	OutputDir string

	CaseTemplateDir string
	SheetTemplate   string
	LetterTemplate  string
	DepartmentsCSV  string
	RNECSV          string

	GeoAPIBaseURL        string
	MairieAPIBaseURL     string
	HTTPTimeoutMs        int
	ImageTimeoutMs       int
	GeoRateLimitRPS      int
	CommuneCacheEnabled  bool
	CommuneCacheTTLHours int

	MergeCleanup   string
	ArchiveDirName string
	ImageWidthMM   int

	LogLevel  string
	LogFormat string

	WatchIntervalSec int
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}
	utils := filepath.Join(cwd, "utils")

	cfg := Config{
		DBPath:    getEnv("DB_PATH", filepath.Join(cwd, "data", "app.db")),
		InputDir:  getEnv("INPUT_DIR", filepath.Join(utils, "csv")),
		OutputDir: getEnv("OUTPUT_DIR", filepath.Join(cwd, "dossiers_generes")),

		CaseTemplateDir: getEnv("CASE_TEMPLATE_DIR", filepath.Join(utils, "dossier_modele")),
		SheetTemplate:   getEnv("SHEET_TEMPLATE", filepath.Join(utils, "fichev1.docx")),
		LetterTemplate:  getEnv("LETTER_TEMPLATE", filepath.Join(utils, "modele_lettre_infraction.docx")),
		DepartmentsCSV:  getEnv("DEPARTMENTS_CSV", ""),
		RNECSV:          getEnv("RNE_CSV", filepath.Join(utils, "RNE.csv")),

		GeoAPIBaseURL:        getEnv("GEO_API_BASE_URL", "https://geo.api.gouv.fr"),
		MairieAPIBaseURL:     getEnv("MAIRIE_API_BASE_URL", "https://etablissements-publics.api.gouv.fr/v3"),
		HTTPTimeoutMs:        getEnvInt("HTTP_TIMEOUT_MS", 4000),
		ImageTimeoutMs:       getEnvInt("IMAGE_TIMEOUT_MS", 10000),
		GeoRateLimitRPS:      getEnvInt("GEO_RATE_LIMIT_RPS", 10),
		CommuneCacheEnabled:  getEnvBool("COMMUNE_CACHE", true),
		CommuneCacheTTLHours: getEnvInt("COMMUNE_CACHE_TTL_HOURS", 720),

		MergeCleanup:   strings.ToLower(strings.TrimSpace(getEnv("MERGE_CLEANUP", CleanupArchive))),
		ArchiveDirName: getEnv("ARCHIVE_DIR_NAME", "archives"),
		ImageWidthMM:   getEnvInt("IMAGE_WIDTH_MM", 120),

		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		WatchIntervalSec: getEnvInt("WATCH_INTERVAL_SEC", 30),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.MergeCleanup {
	case CleanupArchive, CleanupDelete:
	default:
		return fmt.Errorf("unsupported MERGE_CLEANUP: %q (want archive|delete)", c.MergeCleanup)
	}
	if c.HTTPTimeoutMs <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT_MS must be positive, got %d", c.HTTPTimeoutMs)
	}
	if c.ImageTimeoutMs <= 0 {
		return fmt.Errorf("IMAGE_TIMEOUT_MS must be positive, got %d", c.ImageTimeoutMs)
	}
	if c.MergeCleanup == CleanupArchive && strings.TrimSpace(c.ArchiveDirName) == "" {
		return fmt.Errorf("ARCHIVE_DIR_NAME is required when MERGE_CLEANUP=archive")
	}
	return nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
