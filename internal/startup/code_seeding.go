// Package startup provides service initialization utilities, including
// seeding access codes from a configuration file.
package startup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/access"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/validation"
)

// CodeConfig is one access code definition in the seed file.
type CodeConfig struct {
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	CodeType      models.CodeType `json:"code_type"`
	MaxUsageCount int             `json:"max_usage_count"`
	// ExpiresIn is a Go duration relative to seeding time, e.g. "72h".
	ExpiresIn string `json:"expires_in,omitempty"`
	// ExpiresAt is an absolute expiry; it wins over ExpiresIn.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// SeedFile is the layout of the seed file.
type SeedFile struct {
	Codes []CodeConfig `json:"codes"`
}

// SeedResult counts the outcome of a seeding run.
type SeedResult struct {
	Created int
	Skipped int
	Failed  int
}

// CodeSeedingService creates access codes from a configuration file at startup.
// Codes that already exist are skipped, so seeding is safe to repeat.
type CodeSeedingService struct {
	config    *config.Config
	adminSvc  access.AdminService
	validator *validation.Validator
	logger    *logrus.Logger
	now       func() time.Time
}

// NewCodeSeedingService creates a new code seeding service.
func NewCodeSeedingService(
	cfg *config.Config,
	adminSvc access.AdminService,
	v *validation.Validator,
	logger *logrus.Logger,
) *CodeSeedingService {
	return &CodeSeedingService{
		config:    cfg,
		adminSvc:  adminSvc,
		validator: v,
		logger:    logger,
		now:       time.Now,
	}
}

// SeedCodes seeds codes when seeding is enabled. A missing file is not an error.
func (s *CodeSeedingService) SeedCodes(ctx context.Context) (*SeedResult, error) {
	result := &SeedResult{}
	if !s.config.CodeSeed.Enabled {
		return result, nil
	}

	configPath := s.config.CodeSeed.ConfigPath
	if err := validateConfigPath(configPath); err != nil {
		s.logger.WithError(err).Error("Invalid code seed path")
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		s.logger.WithField("config_path", configPath).Warn("Code seed file not found, skipping seeding")
		return result, nil
	}

	// #nosec G304 - configPath is validated above to prevent directory traversal
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open code seed file: %w", err)
	}
	defer file.Close()

	var seed SeedFile
	if decodeErr := json.NewDecoder(file).Decode(&seed); decodeErr != nil {
		return nil, fmt.Errorf("failed to parse code seed file: %w", decodeErr)
	}

	s.logger.WithFields(logrus.Fields{
		"config_path": configPath,
		"code_count":  len(seed.Codes),
	}).Info("Seeding access codes from config file")

	for i, codeConfig := range seed.Codes {
		fields := logrus.Fields{
			"code":  codeConfig.Code,
			"index": i + 1,
			"total": len(seed.Codes),
		}

		req, reqErr := s.request(codeConfig)
		if reqErr != nil {
			result.Failed++
			s.logger.WithError(reqErr).WithFields(fields).Error("Invalid access code in seed file")
			continue
		}

		code, createErr := s.adminSvc.CreateCode(ctx, req)
		switch {
		case errors.Is(createErr, models.ErrDuplicateCode):
			result.Skipped++
			s.logger.WithFields(fields).Debug("Access code already exists, skipping")
		case createErr != nil:
			result.Failed++
			s.logger.WithError(createErr).WithFields(fields).Error("Failed to seed access code")
		default:
			result.Created++
			fields["code_id"] = code.ID
			s.logger.WithFields(fields).Info("Access code seeded")
		}
	}

	return result, nil
}

func (s *CodeSeedingService) request(c CodeConfig) (*models.CreateCodeRequest, error) {
	req := &models.CreateCodeRequest{
		Code:          c.Code,
		Name:          c.Name,
		CodeType:      c.CodeType,
		MaxUsageCount: c.MaxUsageCount,
		ExpiresAt:     c.ExpiresAt,
	}

	if req.ExpiresAt == nil && c.ExpiresIn != "" {
		d, err := time.ParseDuration(c.ExpiresIn)
		if err != nil {
			return nil, fmt.Errorf("invalid expires_in %q: %w", c.ExpiresIn, err)
		}
		expiresAt := s.now().Add(d).UTC()
		req.ExpiresAt = &expiresAt
	}

	if err := s.validator.CreateCode(req, s.config.Access.MaxUsageLimit); err != nil {
		return nil, err
	}
	return req, nil
}

// validateConfigPath validates the config path to prevent directory traversal attacks.
func validateConfigPath(configPath string) error {
	cleanPath := filepath.Clean(configPath)

	if strings.Contains(cleanPath, "..") {
		return errors.New("directory traversal not allowed in config path")
	}

	if filepath.IsAbs(cleanPath) {
		if err := validateAbsolutePath(cleanPath); err != nil {
			return err
		}
	}

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must be a JSON file")
	}

	return nil
}

// validateAbsolutePath checks if absolute path is in allowed directories.
func validateAbsolutePath(cleanPath string) error {
	allowedPrefixes := []string{
		"/app/configs/",
		"/opt/app/configs/",
		"/usr/local/app/configs/",
	}

	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(cleanPath, prefix) {
			return nil
		}
	}

	// For development, also allow configs/ directory in current working directory
	cwd, err := os.Getwd()
	if err == nil {
		configsDir := filepath.Join(cwd, "configs")
		if strings.HasPrefix(cleanPath, configsDir) {
			return nil
		}
	}

	return errors.New("absolute paths not allowed outside of permitted directories")
}
