package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("HERMOD_CDC_TEST_DSN", "user:pass@tcp(db:3306)/app")
	defer os.Unsetenv("HERMOD_CDC_TEST_DSN")

	in := `dsn: ${HERMOD_CDC_TEST_DSN}
level: ${HERMOD_CDC_TEST_LEVEL:-info}`
	out := SubstituteEnvVars(in)

	want := `dsn: user:pass@tcp(db:3306)/app
level: info`
	assert.Equal(t, want, out)
}

func TestLoadValidatesRequiredFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
source_path: /data/app.db
checkpoint_path: /data/checkpoints.db
targets:
  - name: mysql-prod
    kind: mysql
    dsn: ${DB_DSN:-user:pass@tcp(localhost:3306)/app}
mappings:
  - source_table: users
    target_table: users
batch_size: 500
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "user:pass@tcp(localhost:3306)/app", cfg.Targets[0].DSN)
	assert.NotNil(t, cfg.TableMapping("users"))
}

func TestValidateRejectsNoTargets(t *testing.T) {
	cfg := &Config{SourcePath: "/data/app.db", Mappings: []TableMappingConfig{{SourceTable: "users"}}}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateTargetNames(t *testing.T) {
	cfg := &Config{
		SourcePath: "/data/app.db",
		Targets: []TargetConfig{
			{Name: "a", Kind: "mysql"},
			{Name: "a", Kind: "oracle"},
		},
		Mappings: []TableMappingConfig{{SourceTable: "users"}},
	}
	assert.Error(t, cfg.Validate())
}
