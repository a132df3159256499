package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/3s-rg-codes/faasctl/pkg/config"
	"github.com/3s-rg-codes/faasctl/pkg/utils"
)

func main() {
	if err := config.LoadDotEnv(envFiles(os.Args[1:])...); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout, os.Stderr).Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// envFiles finds --env-file before flag parsing, since the file feeds the
// environment variables the flags read from.
func envFiles(args []string) []string {
	path := os.Getenv("FAASCTL_ENV_FILE")
	for i, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--env-file="); ok {
			path = v
		} else if arg == "--env-file" && i+1 < len(args) {
			path = args[i+1]
		}
	}
	if path == "" {
		path = ".env"
	}
	return []string{path}
}

func newRootCommand(out, errOut io.Writer) *cli.Command {
	defaults := config.Default()

	return &cli.Command{
		Name:      "faasctl",
		Usage:     "manage functions on the serverless platform",
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "registry-url",
				Usage:   "base url of the function registry",
				Value:   defaults.RegistryURL,
				Sources: cli.EnvVars("FAASCTL_REGISTRY_URL"),
			},
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "registry backend: http or etcd",
				Value:   defaults.Backend,
				Sources: cli.EnvVars("FAASCTL_BACKEND"),
			},
			&cli.StringSliceFlag{
				Name:    "etcd-endpoint",
				Usage:   "etcd endpoint, repeat for several",
				Value:   defaults.EtcdEndpoints,
				Sources: cli.EnvVars("FAASCTL_ETCD_ENDPOINTS"),
			},
			&cli.StringFlag{
				Name:    "etcd-prefix",
				Usage:   "key prefix of function definitions in etcd",
				Value:   defaults.EtcdPrefix,
				Sources: cli.EnvVars("FAASCTL_ETCD_PREFIX"),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Usage:   "timeout of a single registry request, example: 30s, 1m",
				Aliases: []string{"t"},
				Value:   defaults.RequestTimeout,
				Sources: cli.EnvVars("FAASCTL_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "how often live status of deployed functions is read",
				Value:   defaults.PollInterval,
				Sources: cli.EnvVars("FAASCTL_POLL_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "artifact-store",
				Usage:   "where function packages go: registry, inline or s3",
				Value:   defaults.ArtifactStore,
				Sources: cli.EnvVars("FAASCTL_ARTIFACT_STORE"),
			},
			&cli.StringFlag{
				Name:    "s3-bucket",
				Sources: cli.EnvVars("FAASCTL_S3_BUCKET"),
			},
			&cli.StringFlag{
				Name:    "s3-prefix",
				Usage:   "key prefix of uploaded packages",
				Sources: cli.EnvVars("FAASCTL_S3_PREFIX"),
			},
			&cli.StringFlag{
				Name:    "s3-region",
				Sources: cli.EnvVars("FAASCTL_S3_REGION", "AWS_REGION"),
			},
			&cli.StringFlag{
				Name:    "s3-endpoint",
				Usage:   "custom endpoint, for MinIO",
				Sources: cli.EnvVars("FAASCTL_S3_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:    "s3-access-key",
				Sources: cli.EnvVars("FAASCTL_S3_ACCESS_KEY"),
			},
			&cli.StringFlag{
				Name:    "s3-secret-key",
				Sources: cli.EnvVars("FAASCTL_S3_SECRET_KEY"),
			},
			&cli.StringFlag{
				Name:    "kubeconfig",
				Usage:   "read live status from this cluster instead of the registry",
				Sources: cli.EnvVars("FAASCTL_KUBECONFIG"),
			},
			&cli.StringFlag{
				Name:    "namespace",
				Usage:   "namespace function deployments run in",
				Value:   defaults.Namespace,
				Sources: cli.EnvVars("FAASCTL_NAMESPACE"),
			},
			&cli.StringFlag{
				Name:    "deploy-prefix",
				Usage:   "prefix of deployment names",
				Value:   defaults.DeployPrefix,
				Sources: cli.EnvVars("FAASCTL_DEPLOY_PREFIX"),
			},
			&cli.StringFlag{
				Name:    "gateway-url",
				Usage:   "public gateway deployed functions are served on",
				Value:   defaults.GatewayURL,
				Sources: cli.EnvVars("FAASCTL_GATEWAY_URL"),
			},
			&cli.BoolFlag{
				Name:    "verify-images",
				Usage:   "check that docker images exist before creating IMAGE functions",
				Sources: cli.EnvVars("FAASCTL_VERIFY_IMAGES"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file to read (default .env)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Value:   defaults.LogLevel,
				Sources: cli.EnvVars("FAASCTL_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "text, json or dev",
				Value:   defaults.LogFormat,
				Sources: cli.EnvVars("FAASCTL_LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "log-file",
				Usage:   "write logs to this file instead of stderr",
				Sources: cli.EnvVars("FAASCTL_LOG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "list functions",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "live",
						Usage: "include live status of deployed functions",
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "keep printing status changes",
					},
					durationFlag(),
				},
				Action: listAction,
			},
			{
				Name:      "get",
				Usage:     "show one function",
				ArgsUsage: "function ID",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "text, json, yaml or dump",
						Value:   outputText,
					},
				},
				Action: getAction,
			},
			{
				Name:   "create",
				Usage:  "register a new function",
				Flags:  definitionFlags(true),
				Action: createAction,
			},
			{
				Name:      "update",
				Usage:     "change the metadata of a function",
				ArgsUsage: "function ID",
				Flags:     definitionFlags(false),
				Action:    updateAction,
			},
			{
				Name:   "validate",
				Usage:  "check a definition without contacting the registry",
				Flags:  definitionFlags(true),
				Action: validateAction,
			},
			{
				Name:      "start",
				Usage:     "deploy a function",
				ArgsUsage: "function ID",
				Action:    startAction,
			},
			{
				Name:      "stop",
				Usage:     "undeploy a function",
				ArgsUsage: "function ID",
				Action:    stopAction,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "undeploy a function and remove it from the registry",
				ArgsUsage: "function ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "yes",
						Aliases: []string{"y"},
						Usage:   "do not ask for confirmation",
					},
				},
				Action: deleteAction,
			},
			{
				Name:      "status",
				Usage:     "show the live status of a function",
				ArgsUsage: "function ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "keep polling until interrupted",
					},
					durationFlag(),
				},
				Action: statusAction,
			},
		},
	}
}

func durationFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:  "duration",
		Usage: "stop watching after this long, 0 watches until interrupted",
	}
}

// definitionFlags are the field flags of create, update and validate. Code
// location and package only apply to new functions.
func definitionFlags(withLocation bool) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "file",
			Aliases: []string{"f"},
			Usage:   "read the definition from a YAML or JSON manifest",
		},
		&cli.StringFlag{Name: "name"},
		&cli.StringFlag{Name: "type", Usage: "FUNCTION or IMAGE"},
		&cli.StringFlag{Name: "source", Usage: "GITHUB, STORAGE or DOCKER"},
		&cli.StringFlag{Name: "event-type", Usage: "HTTP or QUEUE_EVENT"},
		&cli.StringFlag{Name: "redis-host"},
		&cli.StringFlag{Name: "redis-queue"},
		&cli.StringFlag{Name: "status", Usage: "PENDING, DEPLOYED or UNDEPLOYED"},
	}
	if withLocation {
		flags = append(flags,
			&cli.StringFlag{Name: "location", Usage: "GitHub repository or Docker image"},
			&cli.StringFlag{Name: "artifact", Usage: "function package to upload for STORAGE functions"},
		)
	}
	return flags
}

// setup reads the global flags and builds the app for one command run.
func setup(cmd *cli.Command) (*app, error) {
	cfg := config.Config{
		Backend:        cmd.String("backend"),
		RegistryURL:    cmd.String("registry-url"),
		EtcdEndpoints:  cmd.StringSlice("etcd-endpoint"),
		EtcdPrefix:     cmd.String("etcd-prefix"),
		RequestTimeout: cmd.Duration("timeout"),
		PollInterval:   cmd.Duration("poll-interval"),
		ArtifactStore:  cmd.String("artifact-store"),
		S3: config.S3Config{
			Bucket:    cmd.String("s3-bucket"),
			Prefix:    cmd.String("s3-prefix"),
			Region:    cmd.String("s3-region"),
			Endpoint:  cmd.String("s3-endpoint"),
			AccessKey: cmd.String("s3-access-key"),
			SecretKey: cmd.String("s3-secret-key"),
		},
		Kubeconfig:   cmd.String("kubeconfig"),
		Namespace:    cmd.String("namespace"),
		DeployPrefix: cmd.String("deploy-prefix"),
		GatewayURL:   cmd.String("gateway-url"),
		VerifyImages: cmd.Bool("verify-images"),
		LogLevel:     cmd.String("log-level"),
		LogFormat:    cmd.String("log-format"),
		LogFile:      cmd.String("log-file"),
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	root := cmd.Root()
	errOut := root.ErrWriter
	if errOut == nil {
		errOut = os.Stderr
	}
	logger := utils.NewLogger(errOut, cfg.LogLevel, cfg.LogFormat)
	if cfg.LogFile != "" {
		l, err := utils.SetupLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	out := root.Writer
	if out == nil {
		out = os.Stdout
	}
	return newApp(cfg, logger, out, errOut), nil
}

// watchContext bounds a watch by d when d is positive.
func watchContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
