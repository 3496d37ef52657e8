package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rigcount/pkg/common"
	"rigcount/pkg/config"
	"rigcount/pkg/display"
	"rigcount/pkg/downloader"
	"rigcount/pkg/history"
	"rigcount/pkg/parse"
	"rigcount/pkg/pipeline"
	"rigcount/pkg/sink"

	"github.com/alecthomas/kingpin"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitConfig   = 2
	exitTransfer = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := newCLI(os.Stdout, os.Stderr).execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

type cli struct {
	app    *kingpin.Application
	stdout io.Writer
	stderr io.Writer

	// Global flags applying to every command
	settingsPath *string
	envFile      *string
	verbose      *bool
	logFormat    *string
	historyPath  *string

	run *kingpin.CmdClause

	fetch          *kingpin.CmdClause
	fetchSource    *string
	fetchFormat    *string
	fetchOutput    *string
	fetchMediaType *string
	fetchQuery     *string
	fetchMember    *string
	fetchTransform *string

	formats *kingpin.CmdClause

	history      *kingpin.CmdClause
	historyLimit *int
}

func newCLI(stdout, stderr io.Writer) *cli {
	c := &cli{stdout: stdout, stderr: stderr}
	c.app = kingpin.New("rigcount", "Fetch remote data sets and store them as CSV files").Version(config.GetBuildInfo())
	c.app.UsageWriter(stdout)
	c.app.ErrorWriter(stderr)

	c.settingsPath = c.app.Flag("settings", "Settings file (.json, .yaml, .yml or .toml)").Default(config.DefaultSettingsPath()).String()
	c.envFile = c.app.Flag("env-file", "Dotenv file seeding RIGCOUNT_* variables").String()
	c.verbose = c.app.Flag("verbose", "Enable verbose logging").Short('v').Default("false").Bool()
	c.logFormat = c.app.Flag("log-format", "Output style").Default("console").Enum("console", "logfmt")
	c.historyPath = c.app.Flag("history", "Run history file, empty to disable").Default(history.DefaultPath()).String()

	c.run = c.app.Command("run", "Run every job from the settings file").Default()

	c.fetch = c.app.Command("fetch", "Fetch a single source into a file")
	c.fetchSource = c.fetch.Arg("source", "http or https URI to fetch").Required().String()
	c.fetchFormat = c.fetch.Flag("format", "Output format").Default("csv").String()
	c.fetchOutput = c.fetch.Flag("output", "Output file, /dev/stdout for the terminal").Short('o').Required().String()
	c.fetchMediaType = c.fetch.Flag("media-type", "Override the media type declared by the server").String()
	c.fetchQuery = c.fetch.Flag("query", "jq program selecting records from JSON payloads").String()
	c.fetchMember = c.fetch.Flag("member", "Archive entry to parse, as a glob").String()
	c.fetchTransform = c.fetch.Flag("transform", "Starlark script rewriting each record").String()

	c.formats = c.app.Command("formats", "List output formats and accepted media types")

	c.history = c.app.Command("history", "Show recent runs")
	c.historyLimit = c.history.Flag("limit", "Number of runs to show, 0 for all").Short('n').Default("20").Int()

	return c
}

func (c *cli) execute(ctx context.Context, args []string) int {
	cmd, err := c.app.Parse(args)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return exitFailure
	}

	// stdout is reserved for command output and the /dev/stdout sink.
	var disp display.Display
	if *c.logFormat == "logfmt" {
		disp = display.NewLogfmt(c.stderr)
	} else {
		disp = display.NewWriterDisplay(c.stderr)
	}
	defer disp.Close()
	disp.SetVerbose(*c.verbose)

	switch cmd {
	case c.run.FullCommand():
		err = c.runJobs(ctx, disp)
	case c.fetch.FullCommand():
		err = c.fetchOne(ctx, disp)
	case c.formats.FullCommand():
		c.listFormats()
	case c.history.FullCommand():
		err = c.showHistory()
	}

	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func (c *cli) runJobs(ctx context.Context, disp display.Display) error {
	if *c.envFile != "" {
		if err := config.LoadEnvFile(*c.envFile); err != nil {
			return err
		}
	}

	settings, err := config.Load(*c.settingsPath)
	if err != nil {
		return err
	}
	if err := settings.ApplyEnv(os.Getenv); err != nil {
		return err
	}
	jobs, err := settings.AllJobs()
	if err != nil {
		return err
	}

	runner := c.newRunner(disp)
	if settings.Concurrency > 0 {
		runner.Concurrency = settings.Concurrency
	}
	disp.Log(fmt.Sprintf("running %d jobs from %s", len(jobs), *c.settingsPath))

	_, err = runner.RunAll(ctx, jobs)
	c.saveHistory(runner)
	return err
}

func (c *cli) fetchOne(ctx context.Context, disp display.Display) error {
	job := config.Job{
		Name:        "fetch",
		Source:      *c.fetchSource,
		Format:      *c.fetchFormat,
		Destination: *c.fetchOutput,
		MediaType:   *c.fetchMediaType,
		Query:       *c.fetchQuery,
		Member:      *c.fetchMember,
		Transform:   *c.fetchTransform,
	}

	runner := c.newRunner(disp)
	_, err := runner.Run(ctx, job)
	c.saveHistory(runner)
	return err
}

func (c *cli) newRunner(disp display.Display) *pipeline.Runner {
	runner := pipeline.New(downloader.NewDefaultLoader(disp), sink.Default, disp)
	if *c.historyPath != "" {
		runner.History = history.Open(*c.historyPath, 0)
	}
	return runner
}

// saveHistory never fails the command; the runs themselves already happened.
func (c *cli) saveHistory(runner *pipeline.Runner) {
	if runner.History == nil {
		return
	}
	if err := runner.History.Save(); err != nil {
		fmt.Fprintf(c.stderr, "Warning: %v\n", err)
	}
}

func (c *cli) showHistory() error {
	if *c.historyPath == "" {
		return nil
	}
	runs, err := history.Open(*c.historyPath, 0).Last(*c.historyLimit)
	if err != nil {
		return err
	}
	for _, e := range runs {
		status := "ok"
		if !e.OK() {
			status = "failed: " + e.Error
		}
		fmt.Fprintf(c.stdout, "%s  %-12s %6d records  %s -> %s  %s\n",
			e.Finished.Local().Format(time.DateTime), e.Job, e.Records, e.Source, e.Destination, status)
	}
	return nil
}

func (c *cli) listFormats() {
	fmt.Fprintf(c.stdout, "Output formats:\n  %s\n", strings.Join(sink.Formats(), "\n  "))
	fmt.Fprintf(c.stdout, "Media types:\n  %s\n", strings.Join(parse.MediaTypes(), "\n  "))
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if code, ok := classify(err); ok {
		return code
	}
	return exitFailure
}

// classify walks the error tree depth first, joined errors in order, and maps
// the first classified error it meets to an exit code.
func classify(err error) (int, bool) {
	switch err.(type) {
	case *common.ConfigError:
		return exitConfig, true
	case *common.TransferError:
		return exitTransfer, true
	}

	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if code, ok := classify(e); ok {
				return code, true
			}
		}
	case interface{ Unwrap() error }:
		if e := u.Unwrap(); e != nil {
			return classify(e)
		}
	}
	return 0, false
}
