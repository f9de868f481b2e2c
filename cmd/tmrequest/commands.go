package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"

	"github.com/fernandezvara/tmrequest"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// newRootCommand creates the root command
func newRootCommand(out io.Writer) *Command {
	root := &Command{
		Name:        "tmrequest",
		Description: "tmrequest - training manager role administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("tmrequest", flag.ContinueOnError),
	}

	for _, cmd := range []*Command{
		newMigrateCommand(out),
		newHealthCommand(out),
		newHasRoleCommand(out),
		newClassifyCommand(out, "can-assign", "Classify whether a user may request the role"),
		newClassifyCommand(out, "validate", "Classify whether a user's assignments are consistent"),
		newAssignCommand(out),
		newUnassignCommand(out),
		newRequestCommand(out),
		newReconcileCommand(out),
		newAuditCommand(out),
		newServeCommand(),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0].
func (c *Command) Execute(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		c.usage(os.Stderr)
		return nil
	}
	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}
	return fmt.Errorf("unknown command: %s", args[0])
}

func (c *Command) usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: %s <command> [flags]\n\n", c.Name)
	fmt.Fprintf(w, "Commands:\n")
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-12s %s\n", name, c.Subcommands[name].Description)
	}
}

var errNoUser = errors.New("-user is required")

// runWithApp loads the configuration, connects and calls fn with a context
// cancelled on interrupt.
func runWithApp(configPath string, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, _ = tmrequest.EnsureRequestID(ctx)
	return fn(ctx, a)
}

// userFlags registers the flags shared by every per-user command.
func userFlags(fs *flag.FlagSet) (configPath, userID, actorID *string) {
	configPath = fs.String("config", "", "path to a YAML config file")
	userID = fs.String("user", "", "user id")
	actorID = fs.String("actor", "", "actor recorded in the audit log (defaults to -user)")
	return
}

func withActor(ctx context.Context, userID, actorID string) context.Context {
	ctx = tmrequest.WithUserID(ctx, userID)
	if actorID != "" {
		ctx = tmrequest.WithActorID(ctx, actorID)
	}
	return ctx
}

func newMigrateCommand(out io.Writer) *Command {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	return &Command{
		Name:        "migrate",
		Description: "Apply database migrations",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			return runWithApp(*configPath, func(ctx context.Context, a *app) error {
				applied, err := a.migrate(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "applied %d migrations\n", len(applied))
				return nil
			})
		},
	}
}

func newHealthCommand(out io.Writer) *Command {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	return &Command{
		Name:        "health",
		Description: "Check database connectivity",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			return runWithApp(*configPath, func(ctx context.Context, a *app) error {
				status := a.db.Health(ctx)
				if !status.Healthy {
					return fmt.Errorf("database unhealthy: %s", status.Error)
				}
				if err := a.store.Ping(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "ok")
				return nil
			})
		},
	}
}

func newHasRoleCommand(out io.Writer) *Command {
	fs := flag.NewFlagSet("has-role", flag.ContinueOnError)
	configPath, userID, _ := userFlags(fs)
	return &Command{
		Name:        "has-role",
		Description: "Report whether a user is a training manager",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			if *userID == "" {
				return errNoUser
			}
			return runWithApp(*configPath, func(ctx context.Context, a *app) error {
				ok, err := a.reconciler.HasRole(ctx, *userID)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, strconv.FormatBool(ok))
				return nil
			})
		},
	}
}

func newClassifyCommand(out io.Writer, name, description string) *Command {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath, userID, _ := userFlags(fs)
	return &Command{
		Name:        name,
		Description: description,
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			if *userID == "" {
				return errNoUser
			}
			return runWithApp(*configPath, func(ctx context.Context, a *app) error {
				classify := a.reconciler.Validate
				if name == "can-assign" {
					classify = a.reconciler.CanAssign
				}
				c, err := classify(ctx, *userID)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, c)
				return nil
			})
		},
	}
}

func newAssignCommand(out io.Writer) *Command {
	fs := flag.NewFlagSet("assign", flag.ContinueOnError)
	configPath, userID, actorID := userFlags(fs)
	step := fs.String("step", "all", "what to assign: all, system or userset")
	return &Command{
		Name:        "assign",
		Description: "Assign training manager roles without eligibility checks",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			if *userID == "" {
				return errNoUser
			}
			var op func(*tmrequest.Reconciler, context.Context, string) (bool, error)
			switch *step {
			case "all":
				op = (*tmrequest.Reconciler).AssignAll
			case "system":
				op = (*tmrequest.Reconciler).AssignSystemRole
			case "userset":
				op = (*tmrequest.Reconciler).AssignUsersetRole
			default:
				return fmt.Errorf("unknown step %q", *step)
			}
			return runWithApp(*configPath, func(ctx context.Context, a *app) error {
				ok, err := op(a.reconciler, withActor(ctx, *userID, *actorID), *userID)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, strconv.FormatBool(ok))
				return nil
			})
		},
	}
}

func newUnassignCommand(out io.Writer) *Command {
	fs := flag.NewFlagSet("unassign", flag.ContinueOnError)
	configPath, userID, actorID := userFlags(fs)
	step := fs.String("step", "all", "what to remove: all, system, usersets or context")
	contextID := fs.String("context", "", "userset context id (with -step=context)")
	return &Command{
		Name:        "unassign",
		Description: "Remove training manager roles",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			if *userID == "" {
				return errNoUser
			}
			if *step == "context" && *contextID == "" {
				return errors.New("-context is required with -step=context")
			}
			return runWithApp(*configPath, func(ctx context.Context, a *app) error {
				ctx = withActor(ctx, *userID, *actorID)
				var (
					ok  bool
					err error
				)
				switch *step {
				case "all":
					ok, err = a.reconciler.UnassignAll(ctx, *userID)
				case "system":
					ok, err = a.reconciler.UnassignSystemRole(ctx, *userID)
				case "usersets":
					ok, err = a.reconciler.UnassignAllUsersetRoles(ctx, *userID)
				case "context":
					ok, err = a.reconciler.UnassignUsersetRole(ctx, *userID, *contextID)
				default:
					return fmt.Errorf("unknown step %q", *step)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out, strconv.FormatBool(ok))
				return nil
			})
		},
	}
}

func newRequestCommand(out io.Writer) *Command {
	fs := flag.NewFlagSet("request", flag.ContinueOnError)
	configPath, userID, actorID := userFlags(fs)
	return &Command{
		Name:        "request",
		Description: "Run the self-service training manager request",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			if *userID == "" {
				return errNoUser
			}
			return runWithApp(*configPath, func(ctx context.Context, a *app) error {
				c, err := a.reconciler.Request(withActor(ctx, *userID, *actorID), *userID)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, c)
				return nil
			})
		},
	}
}

func newReconcileCommand(out io.Writer) *Command {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	configPath, userID, actorID := userFlags(fs)
	return &Command{
		Name:        "reconcile",
		Description: "Validate a user and repair stale assignments",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			if *userID == "" {
				return errNoUser
			}
			return runWithApp(*configPath, func(ctx context.Context, a *app) error {
				report, err := a.reconciler.Reconcile(withActor(ctx, *userID, *actorID), *userID)
				if err != nil {
					return err
				}
				printReport(out, report)
				return nil
			})
		},
	}
}

func printReport(out io.Writer, report *tmrequest.Report) {
	fmt.Fprintf(out, "before: %s\n", report.Before)
	fmt.Fprintf(out, "after:  %s\n", report.After)
	for _, a := range report.Removed {
		fmt.Fprintf(out, "removed %s from %s\n", a.RoleID, a.Scope())
	}
	if report.Revoked {
		fmt.Fprintln(out, "all training manager assignments revoked")
	}
}

func newAuditCommand(out io.Writer) *Command {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	configPath, userID, _ := userFlags(fs)
	limit := fs.Int("limit", 20, "maximum number of entries")
	return &Command{
		Name:        "audit",
		Description: "Show the audit log for a user",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			if *userID == "" {
				return errNoUser
			}
			return runWithApp(*configPath, func(ctx context.Context, a *app) error {
				filter := tmrequest.NewAuditLogFilter().WithTargetUser(*userID).WithPagination(*limit, 0)
				logs, err := a.store.AuditLog(ctx, filter)
				if err != nil {
					return err
				}
				for _, l := range logs {
					fmt.Fprintf(out, "%s %-8s %s %s@%s by %s\n",
						l.Timestamp.Format("2006-01-02T15:04:05Z07:00"), l.Action, l.Operation, l.RoleID, l.ContextID, l.ActorID)
				}
				return nil
			})
		},
	}
}
