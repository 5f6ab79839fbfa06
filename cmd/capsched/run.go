package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/determined-ai/capsched/internal/config"
	"github.com/determined-ai/capsched/pkg/backend"
	"github.com/determined-ai/capsched/pkg/capability"
	"github.com/determined-ai/capsched/pkg/resources"
	"github.com/determined-ai/capsched/pkg/scheduler"
)

const (
	processBackend = "process"
	dockerBackend  = "docker"

	// itemPlaceholder is replaced by the item in the command template.
	itemPlaceholder = "{}"
	slotResource    = "slot"
)

type runOptions struct {
	backend  string
	image    string
	pool     string
	workers  int
	requires map[string]string
	template bool
	rate     float64
	burst    int
	retries  int
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run [flags] -- command [args...]",
	Short: "Run a command once for every line of standard input",
	Long: `Run a command once for every line of standard input, as one task per line on a
resource pool. Occurrences of {} in the command are replaced with the line; without any, the
line is appended as the last argument. With --template every argument is instead a Go
template with the sprig functions, given .Item (the line) and .Fields (its words), e.g.
'{{ index .Fields 0 | upper }}'. Outputs are written in input order.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun(cmd, args)
	},
}

//nolint:gochecknoinit
func init() {
	flags := runCmd.Flags()
	flags.StringVar(&runOpts.backend, "backend", processBackend,
		"where each task runs, one of [process, docker]")
	flags.StringVar(&runOpts.image, "image", "", "image of the containers, with --backend docker")
	flags.StringVar(&runOpts.pool, "pool", "run",
		"pool to run on; created with --workers slots when it is not configured")
	flags.IntVar(&runOpts.workers, "workers", 4, "slots of the pool when it is created")
	flags.StringToStringVar(&runOpts.requires, "requires", map[string]string{slotResource: "1"},
		"resources each task requires, e.g. cpu=2,memory_mib=512")
	flags.BoolVar(&runOpts.template, "template", false,
		"treat every argument as a Go template with the sprig functions")
	flags.Float64Var(&runOpts.rate, "rate", 0, "maximum tasks submitted per second, 0 for no limit")
	flags.IntVar(&runOpts.burst, "burst", 1, "tasks that may be submitted at once under --rate")
	flags.IntVar(&runOpts.retries, "retries", -1,
		"times a task is run again after losing its worker, -1 for worker_lost_retries")
}

// runPlan is how every item of a run is turned into a task.
type runPlan struct {
	capability capability.Capability
	workFor    func(item string) (backend.Work, error)
	// limiter throttles submissions when set.
	limiter    *rate.Limiter
	submitOpts []scheduler.SubmitOption
}

func newRunPlan(opts runOptions, requirement resources.Vector) runPlan {
	plan := runPlan{capability: capability.New(requirement, opts.pool)}
	if opts.rate > 0 {
		burst := opts.burst
		if burst < 1 {
			burst = 1
		}
		plan.limiter = rate.NewLimiter(rate.Limit(opts.rate), burst)
	}
	if opts.retries >= 0 {
		plan.submitOpts = append(plan.submitOpts, scheduler.WithMaxRetries(opts.retries))
	}
	return plan
}

func runRun(cmd *cobra.Command, args []string) error {
	config, err := initializeConfig()
	if err != nil {
		return err
	}

	requirement, err := parseRequirement(runOpts.requires)
	if err != nil {
		return err
	}
	plan := newRunPlan(runOpts, requirement)
	workFor, b, err := newWorkFactory(runOpts, config, args)
	if err != nil {
		return err
	}
	plan.workFor = workFor

	schedConfig, err := config.Scheduler()
	if err != nil {
		return err
	}
	s, err := scheduler.New(schedConfig, scheduler.WithBackend(runOpts.pool, b))
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Shutdown(time.Duration(config.ShutdownTimeout)); err != nil {
			log.WithError(err).Error("error shutting down scheduler")
		}
	}()

	if _, err := s.EnsurePool(runOpts.pool, resources.Of(slotResource, float64(runOpts.workers))); err != nil {
		return err
	}

	if config.Observability.EnablePrometheus {
		srv := serveMetrics(config.Observability.Listen)
		defer func() {
			_ = srv.Close()
		}()
	}

	items, err := readItems(cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runItems(ctx, s, plan, items, cmd.OutOrStdout())
}

// runItems submits one task per item and writes the outputs of the successful ones to out in the
// order of items.
func runItems(
	ctx context.Context, s *scheduler.Scheduler, plan runPlan, items []string, out io.Writer,
) error {
	handles := make([]*scheduler.Handle, len(items))
	cancelAll := func() {
		for _, h := range handles {
			if h != nil {
				s.Cancel(h)
			}
		}
	}

	var merr *multierror.Error
	for i, item := range items {
		work, err := plan.workFor(item)
		if err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "item %q", item))
			continue
		}
		if plan.limiter != nil {
			if err := plan.limiter.Wait(ctx); err != nil {
				cancelAll()
				return errors.Wrap(err, "waiting to submit")
			}
		}
		handles[i] = s.Submit(plan.capability, work, plan.submitOpts...)
	}

	for i, h := range handles {
		if h == nil {
			continue
		}
		value, err := h.Wait(ctx)
		switch {
		case ctx.Err() != nil:
			cancelAll()
			return ctx.Err()
		case err != nil:
			log.WithError(err).WithFields(log.Fields{
				"item":      items[i],
				"task-name": h.Name(),
			}).Error("task failed")
			merr = multierror.Append(merr, errors.Wrapf(err, "item %q", items[i]))
			continue
		}
		if bs, ok := value.([]byte); ok {
			if _, err := out.Write(bs); err != nil {
				return errors.Wrap(err, "writing output")
			}
		}
	}
	return merr.ErrorOrNil()
}

func newWorkFactory(
	opts runOptions, config *config.Config, command []string,
) (func(string) (backend.Work, error), backend.Backend, error) {
	render, err := newArgsRenderer(command, opts.template)
	if err != nil {
		return nil, nil, err
	}

	switch opts.backend {
	case processBackend:
		return func(item string) (backend.Work, error) {
			argv, err := render(item)
			if err != nil {
				return nil, err
			}
			return backend.Command{Path: argv[0], Args: argv[1:]}, nil
		}, backend.NewProcesses(), nil
	case dockerBackend:
		if opts.image == "" {
			return nil, nil, errors.New("--image is required with --backend docker")
		}
		containers, err := backend.NewContainersFromEnv(config.Docker.Host)
		if err != nil {
			return nil, nil, err
		}
		return func(item string) (backend.Work, error) {
			argv, err := render(item)
			if err != nil {
				return nil, err
			}
			return backend.Container{Image: opts.image, Cmd: argv}, nil
		}, containers, nil
	default:
		return nil, nil, errors.Errorf("unknown backend %q, must be one of [%s, %s]",
			opts.backend, processBackend, dockerBackend)
	}
}

// newArgsRenderer returns the function that builds the command line of one item, either by
// placeholder substitution or by executing every argument as a template.
func newArgsRenderer(command []string, templated bool) (func(item string) ([]string, error), error) {
	if !templated {
		return func(item string) ([]string, error) {
			return substitute(command, item), nil
		}, nil
	}

	tmpls := make([]*template.Template, 0, len(command))
	for i, arg := range command {
		tmpl, err := template.New(fmt.Sprintf("arg %d", i)).
			Funcs(sprig.TxtFuncMap()).
			Option("missingkey=error").
			Parse(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing argument %q", arg)
		}
		tmpls = append(tmpls, tmpl)
	}
	return func(item string) ([]string, error) {
		data := map[string]interface{}{
			"Item":   item,
			"Fields": strings.Fields(item),
		}
		argv := make([]string, 0, len(tmpls))
		var buf bytes.Buffer
		for _, tmpl := range tmpls {
			buf.Reset()
			if err := tmpl.Execute(&buf, data); err != nil {
				return nil, errors.Wrapf(err, "rendering %s", tmpl.Name())
			}
			argv = append(argv, buf.String())
		}
		if argv[0] == "" {
			return nil, errors.New("command renders to an empty program name")
		}
		return argv, nil
	}, nil
}

// substitute replaces the placeholder in every argument with item. If no argument holds the
// placeholder, item is appended instead.
func substitute(args []string, item string) []string {
	out := make([]string, 0, len(args)+1)
	replaced := false
	for _, arg := range args {
		if strings.Contains(arg, itemPlaceholder) {
			replaced = true
			arg = strings.ReplaceAll(arg, itemPlaceholder, item)
		}
		out = append(out, arg)
	}
	if !replaced {
		out = append(out, item)
	}
	return out
}

func parseRequirement(raw map[string]string) (resources.Vector, error) {
	quantities := make(map[string]decimal.Decimal, len(raw))
	for name, s := range raw {
		q, err := decimal.NewFromString(s)
		if err != nil {
			return resources.Vector{}, errors.Wrapf(err, "invalid quantity for resource %s", name)
		}
		quantities[name] = q
	}
	return resources.NewDecimal(quantities), nil
}

// readItems returns the non-empty lines of r.
func readItems(r io.Reader) ([]string, error) {
	var items []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			items = append(items, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading items")
	}
	return items, nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infof("serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	return srv
}
