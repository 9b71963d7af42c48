package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/uioyp/companion/internal/domain/account"
	"github.com/uioyp/companion/internal/domain/logbook"
	"github.com/uioyp/companion/internal/domain/progress"
	"github.com/uioyp/companion/internal/domain/reminder"
	"github.com/uioyp/companion/internal/platform/auth"
	"github.com/uioyp/companion/internal/platform/feed"
	"github.com/uioyp/companion/internal/platform/kvstore"
	"github.com/uioyp/companion/internal/platform/middleware"
	"github.com/uioyp/companion/internal/platform/server"
)

// appLoader builds the application for a command. Tests replace it.
type appLoader func(ctx context.Context) (*app, error)

func defaultLoader(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, newLogger(cfg))
}

func main() {
	if err := rootCmd(defaultLoader).Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd(load appLoader) *cobra.Command {
	root := &cobra.Command{
		Use:          "companion",
		Short:        "UIOyP patient companion agent",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd(load))
	root.AddCommand(loginCmd(load))
	root.AddCommand(logoutCmd(load))
	root.AddCommand(stageCmd(load))
	root.AddCommand(logCmd(load))
	root.AddCommand(reminderCmd(load))
	root.AddCommand(storeCmd(load))
	return root
}

func serveCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local agent: trigger scheduler, reminder resync and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(ctx, a)
		},
	}
}

func runServer(ctx context.Context, a *app) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start trigger scheduler: %w", err)
	}

	resync, err := reminder.NewResyncer(a.syncer, a.cfg.ReminderResync, a.fallback, a.logger)
	if err != nil {
		return err
	}
	resync.Active = a.hasSession
	resync.Start(ctx)
	go resync.Run(ctx)

	return server.Run(ctx, newServer(a), a.cfg.ListenAddr, a.logger)
}

func newServer(a *app) *echo.Echo {
	return server.New(server.Options{
		Logger:   a.logger,
		Sessions: a.sessions,
		Metrics:  a.metrics,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: a.cfg.RateLimitRPS,
			BurstSize:         a.cfg.RateLimitBurst,
		},
		Pool: a.pool,
	},
		account.NewHandler(a.account),
		progress.NewHandler(a.progress),
		logbook.NewHandler(a.logbook),
		reminder.NewHandler(a.syncer, a.admin, a.fallback),
		feed.NewHandler(a.feed),
	)
}

func loginCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and install the daily reminder",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			ctx := cmd.Context()

			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.account.Login(ctx, user)
			if err != nil {
				return err
			}
			a.account.Wait()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Logged in as %s (%s)\n", res.Username, res.Role)
			fmt.Fprintf(out, "Home: %s\n", res.Destination)
			printReminderState(cmd, a.syncer.Status(ctx))
			return nil
		},
	}
	cmd.Flags().String("user", "", "Username (nombre_us)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func logoutCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the signed-in session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.account.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func stageCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Show the current progress stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, _ := cmd.Flags().GetInt("patient")
			ctx := cmd.Context()

			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var stage int
			if patientID > 0 {
				if _, err := a.requireSession(ctx, auth.RoleSpecialist); err != nil {
					return err
				}
				stage = a.progress.PatientStage(ctx, patientID)
			} else {
				sess, err := a.requireSession(ctx)
				if err != nil {
					return err
				}
				stage = a.progress.CurrentStage(ctx, sess.UserID)
			}

			label, _ := progress.StageLabel(stage)
			fmt.Fprintf(cmd.OutOrStdout(), "Stage %d/%d: %s (%.0f%%)\n",
				stage, progress.MaxStage, label, progress.ProgressPercent(stage))
			return nil
		},
	}
	cmd.Flags().Int("patient", 0, "Patient ID (specialists only)")
	return cmd
}

func logCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Record and review the daily log",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Record today's blood pressure and glucose (patients)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pressure, _ := cmd.Flags().GetString("pressure")
			glucose, _ := cmd.Flags().GetFloat64("glucose")
			meals, _ := cmd.Flags().GetString("meals")
			meds, _ := cmd.Flags().GetString("meds")
			ctx := cmd.Context()

			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.requireSession(ctx, auth.RolePatient)
			if err != nil {
				return err
			}
			e, err := a.logbook.Create(ctx, sess.UserID, logbook.Input{
				BloodPressure: pressure,
				Glucose:       &glucose,
				Meals:         meals,
				Medications:   meds,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Log entry recorded.")
			printLogEntry(cmd, *e)
			return nil
		},
	}
	addCmd.Flags().String("pressure", "", "Blood pressure, e.g. \"120 80\"")
	addCmd.Flags().Float64("glucose", 0, "Glucose reading")
	addCmd.Flags().String("meals", "", "Meals of the day")
	addCmd.Flags().String("meds", "", "Medications taken")
	_ = addCmd.MarkFlagRequired("pressure")
	_ = addCmd.MarkFlagRequired("glucose")
	cmd.AddCommand(addCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, _ := cmd.Flags().GetInt("patient")
			ctx := cmd.Context()

			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var entries []logbook.Entry
			if patientID > 0 {
				if _, err := a.requireSession(ctx, auth.RoleSpecialist); err != nil {
					return err
				}
				entries, err = a.logbook.PatientEntries(ctx, patientID)
			} else {
				sess, serr := a.requireSession(ctx, auth.RolePatient)
				if serr != nil {
					return serr
				}
				entries, err = a.logbook.MyEntries(ctx, sess.UserID)
			}
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No log entries")
				return nil
			}
			for _, e := range entries {
				printLogEntry(cmd, e)
			}
			return nil
		},
	}
	listCmd.Flags().Int("patient", 0, "Patient ID (specialists only)")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a log entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid log entry id %q", args[0])
			}
			ctx := cmd.Context()
			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.requireSession(ctx, auth.RolePatient, auth.RoleSpecialist)
			if err != nil {
				return err
			}
			if sess.Role == auth.RolePatient {
				err = a.logbook.DeleteOwn(ctx, sess.UserID, id)
			} else {
				err = a.logbook.Delete(ctx, id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Log entry %d deleted.\n", id)
			return nil
		},
	})
	return cmd
}

func printLogEntry(cmd *cobra.Command, e logbook.Entry) {
	glucose := "-"
	if e.Glucose != nil {
		glucose = strconv.FormatFloat(*e.Glucose, 'f', -1, 64)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "#%s %s presión %s glucosa %s\n", e.ID, e.Date, e.BloodPressure, glucose)
}

func reminderCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminder",
		Short: "Manage the daily log reminder",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Install the reminder at the server's global time",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			_, err = a.syncer.EnsureDailyReminder(ctx, a.fallback)
			if err := softReminderError(cmd, err); err != nil {
				return err
			}
			printReminderState(cmd, a.syncer.Status(ctx))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel",
		Short: "Cancel the installed reminder",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			a.syncer.CancelDailyReminder(ctx)
			printReminderState(cmd, a.syncer.Status(ctx))
			return nil
		},
	})

	rescheduleCmd := &cobra.Command{
		Use:   "reschedule",
		Short: "Install the reminder at a local time",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := scheduleFlag(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			_, err = a.syncer.RescheduleDailyReminder(ctx, sched)
			if err := softReminderError(cmd, err); err != nil {
				return err
			}
			printReminderState(cmd, a.syncer.Status(ctx))
			return nil
		},
	}
	rescheduleCmd.Flags().String("at", "", "Reminder time, HH:MM")
	_ = rescheduleCmd.MarkFlagRequired("at")
	cmd.AddCommand(rescheduleCmd)

	setGlobalCmd := &cobra.Command{
		Use:   "set-global",
		Short: "Change the global reminder time on the server (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := scheduleFlag(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.requireSession(ctx, auth.RoleAdmin); err != nil {
				return err
			}
			_, err = a.admin.SetGlobalTime(ctx, sched)
			if err := softReminderError(cmd, err); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Global reminder time set to %s\n", sched)
			printReminderState(cmd, a.syncer.Status(ctx))
			return nil
		},
	}
	setGlobalCmd.Flags().String("at", "", "Reminder time, HH:MM")
	_ = setGlobalCmd.MarkFlagRequired("at")
	cmd.AddCommand(setGlobalCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the persisted reminder state and the installed triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			printReminderState(cmd, a.syncer.Status(ctx))
			triggers, err := a.scheduler.Triggers(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Installed triggers: %d\n", len(triggers))
			for _, t := range triggers {
				fmt.Fprintf(out, "  %s %02d:%02d next %s\n",
					t.Handle, t.Hour, t.Minute, a.scheduler.Next(t).Format("2006-01-02 15:04 MST"))
			}
			return nil
		},
	})
	return cmd
}

func storeCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the local key-value store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the postgres table backing the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			pg, ok := a.kv.(*kvstore.PGStore)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "STORE_BACKEND is %q; nothing to initialize.\n", a.cfg.StoreBackend)
				return nil
			}
			if err := pg.EnsureSchema(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Store table %s ready.\n", kvstore.DefaultTable)
			return nil
		},
	})
	return cmd
}

func scheduleFlag(cmd *cobra.Command) (reminder.Schedule, error) {
	at, _ := cmd.Flags().GetString("at")
	return reminder.ParseSchedule(at)
}

// softReminderError prints permission and install failures instead of failing
// the command; the reminder is optional.
func softReminderError(cmd *cobra.Command, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, reminder.ErrPermissionDenied):
		fmt.Fprintln(cmd.OutOrStdout(), "Notifications are disabled; no reminder installed.")
		return nil
	case errors.Is(err, reminder.ErrInstallFailed):
		fmt.Fprintf(cmd.OutOrStdout(), "Reminder not installed: %v\n", err)
		return nil
	}
	return err
}

func printReminderState(cmd *cobra.Command, st reminder.State) {
	out := cmd.OutOrStdout()
	switch {
	case st.Handle != "" && st.Schedule != nil:
		fmt.Fprintf(out, "Daily reminder at %s (%s)\n", st.Schedule, st.Handle)
	case st.Schedule != nil:
		fmt.Fprintf(out, "No reminder installed (last time %s)\n", st.Schedule)
	default:
		fmt.Fprintln(out, "No reminder installed")
	}
}

