// Package config reads runtime settings from the environment, after loading
// an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Settings struct {
	FilterColumn string
	ExcludeValue string
	ImageColumn  string

	PoliciesPath string
	CodesPath    string

	Workers        int
	LogLevel       string
	MinDate        time.Time
	IncludeDeleted bool
	// Progress selects interactive progress bars over log lines.
	Progress bool

	NPIRegistryURL string
	MemberAPIURL   string

	S3Bucket  string
	AWSRegion string
}

// Load reads envFiles (default ".env") if they exist, then builds Settings
// from the environment. Variables already set in the process win over the
// files.
func Load(envFiles ...string) (*Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds Settings from the process environment only.
func FromEnv() (*Settings, error) {
	s := &Settings{
		FilterColumn:   os.Getenv("CLAIMCHECK_FILTER_COLUMN"),
		ExcludeValue:   getEnv("CLAIMCHECK_EXCLUDE_VALUE", "2"),
		ImageColumn:    getEnv("CLAIMCHECK_IMAGE_COLUMN", "IMAGE"),
		PoliciesPath:   os.Getenv("CLAIMCHECK_POLICIES"),
		CodesPath:      os.Getenv("CLAIMCHECK_CODES"),
		LogLevel:       getEnv("CLAIMCHECK_LOG_LEVEL", "info"),
		NPIRegistryURL: os.Getenv("NPI_REGISTRY_URL"),
		MemberAPIURL:   os.Getenv("MEMBER_API_URL"),
		S3Bucket:       os.Getenv("CLAIMCHECK_S3_BUCKET"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
	}

	var err error
	s.Workers, err = getEnvAsInt("CLAIMCHECK_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	if s.Workers < 1 {
		return nil, fmt.Errorf("invalid value for CLAIMCHECK_WORKERS: must be at least 1, got %d", s.Workers)
	}

	s.IncludeDeleted, err = getEnvAsBool("CLAIMCHECK_INCLUDE_DELETED", false)
	if err != nil {
		return nil, err
	}
	s.Progress, err = getEnvAsBool("CLAIMCHECK_PROGRESS", true)
	if err != nil {
		return nil, err
	}

	if v := strings.TrimSpace(os.Getenv("CLAIMCHECK_MIN_DATE")); v != "" {
		s.MinDate, err = time.Parse("2006-01-02", v)
		if err != nil {
			return nil, fmt.Errorf("invalid value for CLAIMCHECK_MIN_DATE: expected yyyy-mm-dd, got '%s'", v)
		}
	}

	return s, nil
}

func getEnv(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected an integer, got '%s'", key, valueStr)
	}

	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: expected a boolean, got '%s'", key, valueStr)
	}

	return value, nil
}
