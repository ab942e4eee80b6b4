package main

import (
	"context"
	dbsql "database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	catalogsql "github.com/calderadb/quotad/pkg/catalog/sql"
	"github.com/calderadb/quotad/pkg/cluster/adminapi"
	"github.com/calderadb/quotad/pkg/config"
	quotadhttp "github.com/calderadb/quotad/pkg/http"
	"github.com/calderadb/quotad/pkg/observer"
	"github.com/calderadb/quotad/pkg/queue_handler"
	"github.com/calderadb/quotad/pkg/reports"
)

func main() {
	Execute()
}

func DieOnErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewSQS() (*sqs.SQS, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("New AWS session: %w", err)
	}
	sqs := sqs.New(sess)
	return sqs, nil
}

var rootCmd = &cobra.Command{
	Use:   "quotad",
	Short: "quotad observes and enforces space quotas on a Caldera cluster",
	Long: `quotad is the space-quota observer for Caldera.  It collects region size
reports from region servers, reconciles the reported usage of tables and
namespaces against their configured quotas, and drives violation policies
through the cluster admin API.`,
}

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "Start the quotad server",
	Example: "quotad run --config=/etc/caldera/quotad.yaml",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cfg := config.Default()
		configPath, err := cmd.Flags().GetString("config")
		DieOnErr(err)
		if configPath != "" {
			cfg, err = config.Load(configPath)
			DieOnErr(err)
		}
		overrideFromFlags(cmd, &cfg)
		DieOnErr(cfg.Validate())

		log := zerolog.New(os.Stderr).With().Timestamp().Logger()

		db, err := dbsql.Open(cfg.DB.Driver, cfg.DB.DSN)
		DieOnErr(err)
		err = db.PingContext(ctx)
		DieOnErr(err)
		cat, err := catalogsql.NewSQLStore(db)
		DieOnErr(err)
		log.Info().Msg("open quota catalog DB")

		admin, err := adminapi.New(cfg.Admin.URL, time.Duration(cfg.Admin.Timeout))
		DieOnErr(err)

		registry := reports.NewRegistry()

		obs := observer.New(cat, admin, admin, registry, observer.Config{
			Period:       time.Duration(cfg.Observer.Period),
			InitialDelay: time.Duration(cfg.Observer.InitialDelay),
			ReportRatio:  cfg.Observer.ReportRatio,
		}, log.With().Str("component", "observer").Logger())

		runCtx, _ := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)

		if cfg.Reports.Queue != "" {
			queue, err := NewSQS()
			DieOnErr(err)
			log.Info().Str("queue", cfg.Reports.Queue).Msg("listening for report batches on SQS")
			go queue_handler.Poll(runCtx, log.With().Str("component", "queue").Logger(),
				queue, cfg.Reports.Queue, registry)
		}
		if cfg.Reports.MaxAge > 0 {
			go registry.RunPruner(runCtx, time.Duration(cfg.Reports.MaxAge),
				log.With().Str("component", "reports").Logger())
		}
		go obs.Run(runCtx)

		server := &quotadhttp.Server{
			Registry: registry,
			Catalog:  cat,
			States:   obs,
			Log:      log.With().Str("component", "http").Logger(),
		}
		log.Info().Str("listen", cfg.Listen).Msg("starting to serve")
		server.Serve(runCtx, cfg.Listen)
		log.Info().Msg("done")
	},
}

func overrideFromFlags(cmd *cobra.Command, cfg *config.Config) {
	flagString := func(name string, target *string) {
		if cmd.Flags().Changed(name) {
			value, err := cmd.Flags().GetString(name)
			DieOnErr(err)
			*target = value
		}
	}
	flagString("listen", &cfg.Listen)
	flagString("db-driver", &cfg.DB.Driver)
	flagString("db-dsn", &cfg.DB.DSN)
	flagString("admin-url", &cfg.Admin.URL)
	flagString("sqs-name", &cfg.Reports.Queue)
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", "", "Path to quotad configuration file")

	runCmd.Flags().String("listen", "", "Address to serve HTTP on")
	runCmd.Flags().String("db-driver", "", "Quota catalog database driver code")
	runCmd.Flags().StringP("db-dsn", "d", "", "DSN to connect to the quota catalog database")
	runCmd.Flags().String("admin-url", "", "Base URL of the cluster admin API")
	runCmd.Flags().StringP("sqs-name", "q", "", "Name of SQS queue with region size reports to process")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
