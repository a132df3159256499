package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	c := Config{RequestTimeout: -1, Namespace: "fn"}
	c.ApplyDefaults()

	assert.Equal(t, BackendHTTP, c.Backend)
	assert.Equal(t, "http://localhost:8000", c.RegistryURL)
	assert.Equal(t, 30*time.Second, c.RequestTimeout)
	assert.Equal(t, 5*time.Second, c.PollInterval)
	assert.Equal(t, ArtifactStoreRegistry, c.ArtifactStore)
	assert.Equal(t, "fn", c.Namespace)
	assert.Equal(t, "func-", c.DeployPrefix)
	assert.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults"},
		{
			name:    "relative registry url",
			mutate:  func(c *Config) { c.RegistryURL = "localhost:8000" },
			wantErr: "not an absolute url",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Backend = "consul" },
			wantErr: "unknown backend",
		},
		{
			name:    "etcd needs external artifacts",
			mutate:  func(c *Config) { c.Backend = BackendEtcd },
			wantErr: "cannot store artifacts",
		},
		{
			name: "etcd with inline artifacts",
			mutate: func(c *Config) {
				c.Backend = BackendEtcd
				c.ArtifactStore = ArtifactStoreInline
			},
			wantErr: "cannot store artifacts",
		},
		{
			name: "etcd with s3",
			mutate: func(c *Config) {
				c.Backend = BackendEtcd
				c.ArtifactStore = ArtifactStoreS3
				c.S3.Bucket = "functions"
			},
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.ArtifactStore = ArtifactStoreS3 },
			wantErr: "needs a bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			if tt.mutate != nil {
				tt.mutate(&c)
			}
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("FAASCTL_TEST_NAMESPACE=staging\n"), 0o644))
	t.Setenv("FAASCTL_TEST_NAMESPACE", "")
	require.NoError(t, os.Unsetenv("FAASCTL_TEST_NAMESPACE"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "staging", os.Getenv("FAASCTL_TEST_NAMESPACE"))
}

func TestLoadDotEnv_KeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("FAASCTL_TEST_BACKEND=etcd\n"), 0o644))
	t.Setenv("FAASCTL_TEST_BACKEND", "http")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "http", os.Getenv("FAASCTL_TEST_BACKEND"))
}
