package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/3s-rg-codes/faasctl/pkg/function"
	"github.com/3s-rg-codes/faasctl/pkg/lifecycle"
	"github.com/3s-rg-codes/faasctl/pkg/manifest"
	"github.com/3s-rg-codes/faasctl/pkg/queue"
	"github.com/3s-rg-codes/faasctl/pkg/registry"
	"github.com/3s-rg-codes/faasctl/pkg/status"
)

var (
	errInvalidDefinition = errors.New("definition is invalid")
	errMissingID         = errors.New("function ID is required")
)

// liveConcurrency bounds the parallel live status reads of list --live.
const liveConcurrency = 8

func functionID(cmd *cli.Command) (string, error) {
	id := strings.TrimSpace(cmd.Args().First())
	if id == "" {
		return "", errMissingID
	}
	return id, nil
}

// lookup finds a function in the catalog, falling back to the registry.
func (a *app) lookup(ctx context.Context, id string) (function.Definition, error) {
	if def, ok := a.catalog.Get(id); ok {
		return def, nil
	}
	def, err := a.registry.GetFunction(ctx, id)
	if err != nil {
		return function.Definition{}, &function.RegistryError{Op: "get", ID: id, Err: err}
	}
	a.catalog.Put(def)
	return def, nil
}

func listAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.connect(ctx); err != nil {
		return err
	}
	if cmd.Bool("watch") {
		return a.watchAll(ctx, cmd)
	}

	defs := a.catalog.List()
	if !cmd.Bool("live") {
		return printFunctions(a.out, defs, nil)
	}
	rec, err := a.reconciler()
	if err != nil {
		return err
	}
	return printFunctions(a.out, defs, liveDisplays(ctx, rec, defs))
}

// liveDisplays runs one reconcile step per function in parallel. Failures are
// already folded into each display.
func liveDisplays(ctx context.Context, rec *status.Reconciler, defs []function.Definition) map[string]status.Display {
	displays := make(map[string]status.Display, len(defs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(liveConcurrency)
	for _, def := range defs {
		g.Go(func() error {
			d := rec.Reconcile(ctx, def.ID, def.Status)
			mu.Lock()
			displays[def.ID] = d
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return displays
}

// watchAll prints every display change of every function until ctx ends.
// Backends that stream changes keep the set of watched functions current.
func (a *app) watchAll(ctx context.Context, cmd *cli.Command) error {
	rec, err := a.reconciler()
	if err != nil {
		return err
	}
	ctx, cancel := watchContext(ctx, cmd.Duration("duration"))
	defer cancel()

	var mu sync.Mutex
	board := status.NewBoard(ctx, rec, func(d status.Display) {
		name := d.FunctionID
		if def, ok := a.catalog.Get(d.FunctionID); ok {
			name = def.Name
		}
		mu.Lock()
		defer mu.Unlock()
		printDisplay(a.out, name, d, nil)
	})
	for _, def := range a.catalog.List() {
		board.Watch(def.ID, def.Status)
	}

	followed := make(chan struct{})
	if w, ok := a.registry.(registry.Watcher); ok {
		go func() {
			defer close(followed)
			a.catalog.Follow(ctx, w, a.catalog.Revision(), func(ev registry.Event) {
				switch ev.Type {
				case registry.EventTypePut:
					if ev.Function != nil {
						board.Watch(ev.FunctionID, ev.Function.Status)
					}
				case registry.EventTypeDelete:
					board.Forget(ev.FunctionID)
				}
			})
		}()
	} else {
		close(followed)
	}

	<-ctx.Done()
	<-followed
	board.Close()
	return nil
}

func getAction(ctx context.Context, cmd *cli.Command) error {
	id, err := functionID(cmd)
	if err != nil {
		return err
	}
	format := cmd.String("output")
	if err := validOutput(format); err != nil {
		return err
	}
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.connect(ctx); err != nil {
		return err
	}
	def, err := a.lookup(ctx, id)
	if err != nil {
		return err
	}
	return printDefinition(a.out, def, format, a.cfg.GatewayURL, a.cfg.DeployPrefix)
}

func createAction(ctx context.Context, cmd *cli.Command) error {
	c, err := candidateFromFlags(cmd)
	if err != nil {
		return err
	}
	c.ID = ""

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sub, err := a.submitter(ctx)
	if err != nil {
		return err
	}
	def, err := sub.Submit(ctx, c)
	if err != nil {
		return a.submitError(err)
	}
	fmt.Fprintf(a.out, "Created function %q with id %s\n", def.Name, def.ID)
	return nil
}

func updateAction(ctx context.Context, cmd *cli.Command) error {
	id, err := functionID(cmd)
	if err != nil {
		return err
	}
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sub, err := a.submitter(ctx)
	if err != nil {
		return err
	}
	current, err := a.lookup(ctx, id)
	if err != nil {
		return err
	}

	c := function.Candidate{Definition: current}
	if path := cmd.String("file"); path != "" {
		loaded, err := manifest.Load(path)
		if err != nil {
			return err
		}
		c.Definition = loaded.Definition
		c.ID = current.ID
		c.LocationURL = current.LocationURL
	}
	applyFieldFlags(cmd, &c.Definition)

	def, err := sub.Submit(ctx, c)
	if err != nil {
		return a.submitError(err)
	}
	a.catalog.Put(def)
	fmt.Fprintf(a.out, "Updated function %q\n", def.Name)
	return nil
}

func (a *app) submitError(err error) error {
	var verr *function.ValidationError
	if errors.As(err, &verr) {
		fmt.Fprintln(a.errOut, "The definition has errors:")
		printFieldErrors(a.errOut, verr.Fields)
		return errInvalidDefinition
	}
	return err
}

func validateAction(_ context.Context, cmd *cli.Command) error {
	c, err := candidateFromFlags(cmd)
	if err != nil {
		return err
	}
	res := function.Validate(c)
	errs := res.FieldErrors
	for f, msg := range function.CheckDeferred(c, c.ID == "") {
		errs[f] = msg
	}

	w := cmd.Root().Writer
	if len(errs) == 0 {
		fmt.Fprintln(w, "Definition is valid")
		return nil
	}
	fmt.Fprintln(w, "The definition has errors:")
	printFieldErrors(w, errs)
	return errInvalidDefinition
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	return transition(ctx, cmd, lifecycle.ActionStart)
}

func stopAction(ctx context.Context, cmd *cli.Command) error {
	return transition(ctx, cmd, lifecycle.ActionStop)
}

func transition(ctx context.Context, cmd *cli.Command, action lifecycle.Action) error {
	id, err := functionID(cmd)
	if err != nil {
		return err
	}
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.connect(ctx); err != nil {
		return err
	}
	ctrl := a.controller(false)

	var def function.Definition
	if action == lifecycle.ActionStart {
		def, err = ctrl.Start(ctx, id)
	} else {
		def, err = ctrl.Stop(ctx, id)
	}
	if err != nil {
		return err
	}
	if url := def.DeploymentURL(a.cfg.GatewayURL, a.cfg.DeployPrefix); url != "" && def.Status == function.StatusDeployed {
		fmt.Fprintf(a.out, "URL: %s\n", url)
	}
	return nil
}

func deleteAction(ctx context.Context, cmd *cli.Command) error {
	id, err := functionID(cmd)
	if err != nil {
		return err
	}
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.connect(ctx); err != nil {
		return err
	}
	err = a.controller(cmd.Bool("yes")).Delete(ctx, id)
	if errors.Is(err, lifecycle.ErrNotConfirmed) {
		fmt.Fprintln(a.out, "Delete cancelled")
		return nil
	}
	return err
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	id, err := functionID(cmd)
	if err != nil {
		return err
	}
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.connect(ctx); err != nil {
		return err
	}
	def, err := a.lookup(ctx, id)
	if err != nil {
		return err
	}
	rec, err := a.reconciler()
	if err != nil {
		return err
	}
	inspector := a.queueInspector()

	if !cmd.Bool("watch") {
		printDisplay(a.out, def.Name, rec.Reconcile(ctx, id, def.Status), a.depth(ctx, inspector, def))
		return nil
	}

	ctx, cancel := watchContext(ctx, cmd.Duration("duration"))
	defer cancel()

	sub := rec.Observe(ctx, id, def.Status)
	defer sub.Cancel()
	followed := make(chan struct{})
	if w, ok := a.registry.(registry.Watcher); ok {
		go func() {
			defer close(followed)
			a.catalog.Follow(ctx, w, a.catalog.Revision(), func(ev registry.Event) {
				if ev.FunctionID == id && ev.Function != nil {
					sub.SetDeclared(ev.Function.Status)
				}
			})
		}()
	} else {
		close(followed)
	}

	for d := range sub.Updates() {
		current := def
		if latest, ok := a.catalog.Get(id); ok {
			current = latest
		}
		printDisplay(a.out, current.Name, d, a.depth(ctx, inspector, current))
	}
	cancel()
	<-followed
	return nil
}

// depth reads the queue backlog of queue triggered functions. Failures only
// drop the number from the output.
func (a *app) depth(ctx context.Context, inspector *queue.Inspector, def function.Definition) *queue.Depth {
	if def.EventType != function.EventQueue {
		return nil
	}
	d, err := inspector.Depth(ctx, def)
	if err != nil {
		a.logger.Debug("queue depth unavailable", "id", def.ID, "error", err)
		return nil
	}
	return &d
}

// candidateFromFlags reads the manifest, if any, then applies field flags on top.
func candidateFromFlags(cmd *cli.Command) (function.Candidate, error) {
	var c function.Candidate
	if path := cmd.String("file"); path != "" {
		loaded, err := manifest.Load(path)
		if err != nil {
			return function.Candidate{}, err
		}
		c = loaded
	}
	applyFieldFlags(cmd, &c.Definition)
	if cmd.IsSet("location") {
		c.LocationURL = strings.TrimSpace(cmd.String("location"))
	}
	if path := cmd.String("artifact"); path != "" {
		art, err := manifest.ReadArtifact(path)
		if err != nil {
			return function.Candidate{}, err
		}
		c.Artifact = &art
	}
	return c, nil
}

func applyFieldFlags(cmd *cli.Command, def *function.Definition) {
	if cmd.IsSet("name") {
		def.Name = cmd.String("name")
	}
	if cmd.IsSet("type") {
		def.Type = function.Type(strings.ToUpper(cmd.String("type")))
	}
	if cmd.IsSet("source") {
		def.Source = function.Source(strings.ToUpper(cmd.String("source")))
	}
	if cmd.IsSet("event-type") {
		def.EventType = function.EventType(strings.ToUpper(cmd.String("event-type")))
	}
	if cmd.IsSet("status") {
		def.Status = function.Status(strings.ToUpper(cmd.String("status")))
	}
	if cmd.IsSet("redis-host") {
		def.RedisHost = function.StringPtr(cmd.String("redis-host"))
	}
	if cmd.IsSet("redis-queue") {
		def.RedisQueueName = function.StringPtr(cmd.String("redis-queue"))
	}
}
