package config

import (
	"fmt"
	"strings"

	"github.com/Gracecr/sacred/internal/state"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	dialect, err := state.ParseDialect(c.Driver)
	if err != nil {
		return fmt.Errorf("invalid driver: %w", err)
	}

	switch dialect {
	case state.DialectPostgres:
		if strings.TrimSpace(c.DSN) == "" {
			return fmt.Errorf("dsn is required for the postgres driver")
		}
	case state.DialectSQLite:
		if c.StatePath == "" {
			return fmt.Errorf("state_path is required for the sqlite driver")
		}
	}

	switch c.OutputFormat {
	case "", "auto", "text", "markdown", "json":
	default:
		return fmt.Errorf("unknown output format %q (expected auto, text, markdown or json)", c.OutputFormat)
	}

	if c.Serve != nil && (c.Serve.Port < 0 || c.Serve.Port > 65535) {
		return fmt.Errorf("serve.port out of range: %d", c.Serve.Port)
	}

	if tr := c.TestRail; tr.Enabled() {
		switch {
		case tr.User == "" || tr.APIKey == "":
			return fmt.Errorf("testrail.user and testrail.api_key are required when testrail.url is set")
		case tr.CaseID <= 0:
			return fmt.Errorf("testrail.case_id is required when testrail.url is set")
		case tr.ProjectID <= 0 && tr.RunID <= 0:
			return fmt.Errorf("testrail.project_id or testrail.run_id is required when testrail.url is set")
		}
	}
	return nil
}
