package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/example/event-matchmaker/internal/application"
	"github.com/example/event-matchmaker/internal/config"
	"github.com/example/event-matchmaker/internal/logging"
)

const appName = "matchmaker"

// cli carries state shared between the root command and its children.
type cli struct {
	out     io.Writer
	v       *viper.Viper
	cfgFile string
	app     *app

	// newLogger is swapped in tests to keep stderr quiet.
	newLogger func(logging.Options) (*zap.Logger, error)
}

// execute runs the command line in args and always releases what setup acquired.
func execute(ctx context.Context, out io.Writer, args []string) error {
	c := newCLI(out)
	defer c.teardown()
	root := c.rootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newCLI(out io.Writer) *cli {
	return &cli{out: out, v: config.NewViper(), newLogger: logging.New}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "matchmaker suggests, confirms and schedules attendee meetings at events",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return c.setup(cmd.Context())
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "a config file (YAML, TOML or JSON)")
	flags.BoolP("debug", "d", false, "verbose/debug output")
	flags.BoolP("json", "j", false, "json format for logging")
	flags.String("driver", "", "storage driver: memory, sqlite or postgres")
	flags.String("dsn", "", "storage data source name")
	_ = c.v.BindPFlag("log.json", flags.Lookup("json"))
	_ = c.v.BindPFlag("database.driver", flags.Lookup("driver"))
	_ = c.v.BindPFlag("database.dsn", flags.Lookup("dsn"))
	_ = c.v.BindPFlag("debug", flags.Lookup("debug"))

	root.AddCommand(
		c.migrateCommand(),
		c.seedCommand(),
		c.suggestCommand(),
		c.interactionCommand("like"),
		c.interactionCommand("pass"),
		c.assignCommand(),
		c.allocateCommand(),
		c.availabilityCommand(),
		c.statusCommand(),
	)
	return root
}

func (c *cli) setup(ctx context.Context) error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", c.cfgFile, err)
		}
	}
	if c.v.GetBool("debug") {
		c.v.Set("log.level", "debug")
	}
	cfg, err := config.FromViper(c.v)
	if err != nil {
		return err
	}

	logger, err := c.newLogger(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	c.app, err = newApp(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return err
	}
	return nil
}

func (c *cli) teardown() {
	if c.app == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.app.close(ctx)
	_ = c.app.logger.Sync()
	c.app = nil
}

// run executes fn, records its duration and writes the result as indented JSON.
func (c *cli) run(operation string, fn func(ctx context.Context, a *app, args []string) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := logging.ContextWithLogger(cmd.Context(), c.app.logger)
		started := time.Now()
		result, err := fn(ctx, c.app, args)
		c.app.observe(operation, started, err)
		if err != nil {
			return describe(err)
		}
		encoder := json.NewEncoder(c.out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}
}

// describe appends field level detail to validation errors so the terminal shows what was rejected.
func describe(err error) error {
	var vErr *application.ValidationError
	if !errors.As(err, &vErr) || !vErr.HasErrors() {
		return err
	}
	fields := make([]string, 0, len(vErr.FieldErrors))
	for field := range vErr.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	details := make([]string, 0, len(fields))
	for _, field := range fields {
		details = append(details, field+": "+vErr.FieldErrors[field])
	}
	return fmt.Errorf("%w (%s)", err, strings.Join(details, "; "))
}
