// Package main provides a CLI tool for operating the access service: creating
// codes, reading usage and metrics, and triggering cleanup and cache
// invalidation through the admin API. Admin tokens are signed locally with
// the service's JWT secret, read from JWT_SECRET.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/client"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/client/accessapi"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/constants"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/startup"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/token"
	"github.com/jsamuelsen11/recipe-web-app/access-service/pkg/logger"
)

const requestTimeout = 30 * time.Second

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:8080", "Access service base URL")
		action     = flag.String("action", "usage", "Action: create, usage, cleanup, metrics, invalidate")
		configFile = flag.String("config", "", "Path to a code seed file for batch creation")
		code       = flag.String("code", "", "Code value for create")
		name       = flag.String("name", "", "Display name for create")
		codeType   = flag.String("type", "bulk", "Code type for create: bulk or individual")
		maxUsage   = flag.Int("max", 1, "Maximum concurrent holders for create")
		expiresIn  = flag.Duration("expires-in", 24*time.Hour, "Lifetime of a created code")
		codeID     = flag.String("code-id", "", "Code ID for usage or invalidate (empty means all)")
		operation  = flag.String("operation", "", "Operation filter for metrics")
		subject    = flag.String("subject", "code-manager", "Subject of the signed admin token")
		verbose    = flag.Bool("verbose", false, "Log HTTP traffic")
	)
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log := logger.New(level, "text", "stderr")

	api, err := newAPIClient(*baseURL, *subject, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch *action {
	case "create":
		if *configFile != "" {
			err = createFromConfig(ctx, api, *configFile)
			break
		}
		if *code == "" {
			err = errors.New("-code or -config is required for create")
			break
		}
		expiresAt := time.Now().Add(*expiresIn).UTC()
		var created *models.AccessCode
		created, err = api.CreateCode(ctx, &models.CreateCodeRequest{
			Code:          *code,
			Name:          *name,
			CodeType:      models.CodeType(*codeType),
			MaxUsageCount: *maxUsage,
			ExpiresAt:     &expiresAt,
		})
		if err == nil {
			fmt.Println("Access code created successfully:")
			printCode(created)
		}
	case "usage":
		var usage *models.UsageResponse
		usage, err = api.Usage(ctx, *codeID)
		if err == nil {
			printUsage(usage)
		}
	case "cleanup":
		var result *models.CleanupResult
		result, err = api.Cleanup(ctx)
		if err == nil {
			printJSON(result)
		}
	case "metrics":
		var report *models.MetricsReport
		report, err = api.Metrics(ctx, *operation)
		if err == nil {
			printJSON(report)
		}
	case "invalidate":
		var resp *models.InvalidateCacheResponse
		resp, err = api.InvalidateCache(ctx, *codeID)
		if err == nil {
			printJSON(resp)
		}
	default:
		err = fmt.Errorf("unknown action: %s", *action)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newAPIClient(baseURL, subject string, log *logrus.Logger) (*accessapi.Client, error) {
	var jwtCfg config.JWTConfig
	if err := envconfig.Process("JWT", &jwtCfg); err != nil {
		return nil, fmt.Errorf("failed to read JWT settings: %w", err)
	}

	issuer := token.NewJWTService(&jwtCfg)
	tokens := client.NewSigningTokenManager(issuer, subject, 15*time.Minute, log)
	base := client.NewBaseClient(strings.TrimSuffix(baseURL, "/")+constants.APIPrefix, requestTimeout, log)

	return accessapi.NewClient(base, tokens, log), nil
}

// validateConfigPath validates the config path to prevent directory traversal attacks.
func validateConfigPath(configPath string) error {
	cleanPath := filepath.Clean(configPath)

	if strings.Contains(cleanPath, "..") {
		return errors.New("directory traversal not allowed in config path")
	}

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must be a JSON file")
	}

	return nil
}

func createFromConfig(ctx context.Context, api *accessapi.Client, configPath string) error {
	if err := validateConfigPath(configPath); err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}

	// #nosec G304 - configPath is validated above to prevent directory traversal
	file, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var seed startup.SeedFile
	if err := json.NewDecoder(file).Decode(&seed); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	fmt.Printf("Creating %d codes from config...\n", len(seed.Codes))

	for i, c := range seed.Codes {
		fmt.Printf("[%d/%d] Creating %s...", i+1, len(seed.Codes), c.Code)

		req := &models.CreateCodeRequest{
			Code:          c.Code,
			Name:          c.Name,
			CodeType:      c.CodeType,
			MaxUsageCount: c.MaxUsageCount,
			ExpiresAt:     c.ExpiresAt,
		}
		if req.ExpiresAt == nil && c.ExpiresIn != "" {
			d, parseErr := time.ParseDuration(c.ExpiresIn)
			if parseErr != nil {
				fmt.Printf(" FAILED: invalid expires_in %q\n", c.ExpiresIn)
				continue
			}
			expiresAt := time.Now().Add(d).UTC()
			req.ExpiresAt = &expiresAt
		}

		created, createErr := api.CreateCode(ctx, req)
		if createErr != nil {
			fmt.Printf(" FAILED: %v\n", createErr)
			continue
		}
		fmt.Printf(" SUCCESS\n")
		fmt.Printf("  Code ID: %s\n", created.ID)
		fmt.Printf("  Expires: %s\n", created.ExpiresAt.Format(time.RFC3339))
		fmt.Println()
	}

	return nil
}

func printCode(code *models.AccessCode) {
	fmt.Printf("Code ID: %s\n", code.ID)
	fmt.Printf("Code: %s\n", code.Code)
	fmt.Printf("Name: %s\n", code.Name)
	fmt.Printf("Type: %s\n", code.CodeType)
	fmt.Printf("Max Usage: %d\n", code.MaxUsageCount)
	fmt.Printf("Active: %v\n", code.IsActive)
	fmt.Printf("Expires: %s\n", code.ExpiresAt.Format(time.RFC3339))
}

func printUsage(usage *models.UsageResponse) {
	fmt.Printf("%-36s  %-16s  %9s  %8s  %7s\n", "CODE ID", "CODE", "USAGE", "SESSIONS", "EXPIRES")
	for _, s := range usage.Codes {
		expires := fmt.Sprintf("%dm", s.TimeRemainingMinutes)
		if s.IsExpired {
			expires = "expired"
		}
		marker := ""
		if s.IsNearCapacity {
			marker = " !"
		}
		fmt.Printf("%-36s  %-16s  %4d/%-4d  %8d  %7s%s\n",
			s.CodeID, s.Code, s.CurrentUsage, s.MaxCapacity, s.ActiveSessions, expires, marker)
	}
	fmt.Printf("\n%d codes, generated %s\n", len(usage.Codes), usage.GeneratedAt.Format(time.RFC3339))
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to print response: %v\n", err)
	}
}
