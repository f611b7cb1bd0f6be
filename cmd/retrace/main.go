package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/retracehq/retrace/internal/profile"
	"github.com/retracehq/retrace/server"
	"github.com/retracehq/retrace/store"
	"github.com/retracehq/retrace/store/db/postgres"
)

var version = "dev"

func main() {
	instanceProfile := &profile.Profile{Version: version}

	rootCmd := &cobra.Command{
		Use:   "retrace",
		Short: "Screen activity capture, summarization and recall server",
		RunE: func(cmd *cobra.Command, args []string) error {
			instanceProfile.FromEnv()
			if err := instanceProfile.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), instanceProfile)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&instanceProfile.Mode, "mode", "", `mode of the server, can be "prod" or "dev"`)
	flags.StringVar(&instanceProfile.Addr, "addr", "", "binding address")
	flags.IntVar(&instanceProfile.Port, "port", 0, "binding port")
	flags.StringVar(&instanceProfile.Data, "data", "", "directory for locally stored capture artifacts")
	flags.StringVar(&instanceProfile.DSN, "dsn", "", "PostgreSQL connection string")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, p *profile.Profile) error {
	level := slog.LevelInfo
	if p.IsDev() {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	driver, err := postgres.NewDB(p)
	if err != nil {
		return err
	}
	if err := driver.Migrate(ctx); err != nil {
		return err
	}

	st := store.New(driver, p)
	srv, err := server.NewServer(ctx, p, st)
	if err != nil {
		_ = st.Close()
		return err
	}

	if err := srv.Start(ctx); err != nil {
		srv.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	srv.Shutdown(context.Background())
	return nil
}
