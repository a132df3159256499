package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendHTTP = "http"
	BackendEtcd = "etcd"

	// ArtifactStoreRegistry uploads packages to the registry's artifact endpoint.
	ArtifactStoreRegistry = "registry"
	// ArtifactStoreInline sends packages inside the create request.
	ArtifactStoreInline = "inline"
	ArtifactStoreS3     = "s3"
)

type Config struct {
	// Backend selects where definitions live: the HTTP registry or etcd.
	Backend string
	// RegistryURL is the base address of the HTTP registry.
	RegistryURL string
	// EtcdEndpoints are used when Backend is etcd.
	EtcdEndpoints []string
	// EtcdPrefix is the key prefix definitions are stored under.
	EtcdPrefix string
	// RequestTimeout bounds every registry request.
	RequestTimeout time.Duration
	// PollInterval is how often live status is queried for deployed functions.
	PollInterval time.Duration

	// ArtifactStore selects where STORAGE packages are uploaded.
	ArtifactStore string
	S3            S3Config

	// Kubeconfig, when set, makes live status come from the cluster instead of the registry.
	Kubeconfig   string
	Namespace    string
	DeployPrefix string
	// GatewayURL is the public base used to build deployment URLs.
	GatewayURL string

	// VerifyImages checks that IMAGE locations resolve before submitting.
	VerifyImages bool

	LogLevel  string
	LogFormat string
	LogFile   string
}

type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Default returns a config with every default applied.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults configures the config with default values if not set.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendHTTP
	}
	if c.RegistryURL == "" {
		c.RegistryURL = "http://localhost:8000"
	}
	if len(c.EtcdEndpoints) == 0 {
		c.EtcdEndpoints = []string{"localhost:2379"}
	}
	if c.EtcdPrefix == "" {
		c.EtcdPrefix = "faasctl/functions"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ArtifactStore == "" {
		c.ArtifactStore = ArtifactStoreRegistry
	}
	if c.Namespace == "" {
		c.Namespace = "openfaas-fn"
	}
	if c.DeployPrefix == "" {
		c.DeployPrefix = "func-"
	}
	if c.GatewayURL == "" {
		c.GatewayURL = "http://localhost:31112"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate reports combinations that cannot work.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendHTTP:
		if u, err := url.Parse(c.RegistryURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("registry url %q is not an absolute url", c.RegistryURL))
		}
	case BackendEtcd:
		if len(c.EtcdEndpoints) == 0 {
			errs = append(errs, errors.New("etcd backend needs at least one endpoint"))
		}
		if c.ArtifactStore != ArtifactStoreS3 {
			errs = append(errs, errors.New("etcd backend cannot store artifacts, use --artifact-store s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	switch c.ArtifactStore {
	case ArtifactStoreRegistry, ArtifactStoreInline:
	case ArtifactStoreS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("s3 artifact store needs a bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown artifact store %q", c.ArtifactStore))
	}
	return errors.Join(errs...)
}

// LoadDotEnv loads variables from the given files into the environment without
// overriding what is already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}
