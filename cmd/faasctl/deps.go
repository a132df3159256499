package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/3s-rg-codes/faasctl/pkg/artifact"
	"github.com/3s-rg-codes/faasctl/pkg/catalog"
	"github.com/3s-rg-codes/faasctl/pkg/config"
	"github.com/3s-rg-codes/faasctl/pkg/imagecheck"
	"github.com/3s-rg-codes/faasctl/pkg/lifecycle"
	"github.com/3s-rg-codes/faasctl/pkg/queue"
	"github.com/3s-rg-codes/faasctl/pkg/registry"
	"github.com/3s-rg-codes/faasctl/pkg/status"
	"github.com/3s-rg-codes/faasctl/pkg/submit"
)

// app holds everything a command needs. Commands build it lazily so that
// offline commands like validate never dial anything.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	out    io.Writer
	errOut io.Writer

	registry registry.Client
	catalog  *catalog.Catalog
	closers  []func() error
}

func newApp(cfg config.Config, logger *slog.Logger, out, errOut io.Writer) *app {
	return &app{cfg: cfg, logger: logger, out: out, errOut: errOut}
}

// connect opens the registry backend and loads the catalog.
func (a *app) connect(ctx context.Context) error {
	if a.registry != nil {
		return nil
	}
	client, err := openRegistry(a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.registry = client
	a.closers = append(a.closers, client.Close)
	a.catalog = catalog.New(client, a.logger)
	return a.catalog.Refresh(ctx)
}

var openRegistry = func(cfg config.Config, logger *slog.Logger) (registry.Client, error) {
	switch cfg.Backend {
	case config.BackendEtcd:
		return registry.NewEtcdClient(cfg.EtcdEndpoints, registry.Options{
			Prefix:      cfg.EtcdPrefix,
			DialTimeout: cfg.RequestTimeout,
		}, logger)
	default:
		return registry.NewRESTClient(cfg.RegistryURL, cfg.RequestTimeout, logger), nil
	}
}

func (a *app) uploader(ctx context.Context) (submit.Uploader, error) {
	switch a.cfg.ArtifactStore {
	case config.ArtifactStoreS3:
		return artifact.NewS3Store(ctx, artifact.Options{
			Bucket:    a.cfg.S3.Bucket,
			Prefix:    a.cfg.S3.Prefix,
			Region:    a.cfg.S3.Region,
			Endpoint:  a.cfg.S3.Endpoint,
			AccessKey: a.cfg.S3.AccessKey,
			SecretKey: a.cfg.S3.SecretKey,
		}, a.logger)
	case config.ArtifactStoreInline:
		return nil, nil
	default:
		u, ok := a.registry.(registry.Uploader)
		if !ok {
			return nil, errors.New("registry backend has no artifact endpoint")
		}
		return u, nil
	}
}

func (a *app) submitter(ctx context.Context) (*submit.Submitter, error) {
	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	opts := []submit.Option{submit.WithLogger(a.logger)}

	u, err := a.uploader(ctx)
	if err != nil {
		return nil, err
	}
	if u != nil {
		opts = append(opts, submit.WithUploader(u))
	}

	if a.cfg.VerifyImages {
		checker, closeFn, err := imagecheck.NewDockerChecker(a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeFn)
		opts = append(opts, submit.WithImageChecker(checker))
	}
	return submit.New(a.registry, opts...), nil
}

// liveSource prefers the cluster when a kubeconfig is given.
func (a *app) liveSource() (status.Source, error) {
	if a.cfg.Kubeconfig == "" {
		return a.registry, nil
	}
	client, err := status.NewKubeClient(a.cfg.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	return status.NewKubeSource(client, a.cfg.Namespace, a.cfg.DeployPrefix), nil
}

func (a *app) reconciler() (*status.Reconciler, error) {
	src, err := a.liveSource()
	if err != nil {
		return nil, err
	}
	return status.NewReconciler(src, a.cfg.PollInterval, a.logger), nil
}

func (a *app) controller(assumeYes bool) *lifecycle.Controller {
	return lifecycle.NewController(a.registry, a.catalog,
		lifecycle.WithConfirmer(newConfirmer(assumeYes)),
		lifecycle.WithNotifier(consoleNotifier{w: a.out, logger: a.logger}),
		lifecycle.WithLogger(a.logger),
	)
}

func (a *app) queueInspector() *queue.Inspector {
	return queue.NewInspector(a.logger)
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
