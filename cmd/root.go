package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/allthingslinux/schemaport/database"
	"github.com/allthingslinux/schemaport/loader"
	"github.com/allthingslinux/schemaport/mapping"
	"github.com/allthingslinux/schemaport/migrate"
	"github.com/allthingslinux/schemaport/utils"
	"github.com/allthingslinux/schemaport/validate"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "schemaport",
	Short: "One-shot data migration from a deprecated schema into its redesign",
	Long: `Schemaport copies data out of a deprecated relational schema into its
redesigned successor, driven by a declarative YAML mapping rulebook.

Typical workflow:
  schemaport init                      # write a starter mapping.yaml
  schemaport audit                     # inspect the source schema
  schemaport validate                  # check the rulebook against the source
  schemaport migrate --all --dry-run   # rehearse without committing
  schemaport migrate --all --yes       # migrate every mapped table
  schemaport verify                    # compare target data against source`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("❌", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./schemaport.yaml)")
	rootCmd.PersistentFlags().StringP("mapping", "m", "", "mapping rulebook file")
	rootCmd.PersistentFlags().String("source", "", "source database DSN")
	rootCmd.PersistentFlags().String("target", "", "target database DSN")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	viper.BindPFlag("mapping.file", rootCmd.PersistentFlags().Lookup("mapping"))
	viper.BindPFlag("source.dsn", rootCmd.PersistentFlags().Lookup("source"))
	viper.BindPFlag("target.dsn", rootCmd.PersistentFlags().Lookup("target"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.SetDefault("mapping.file", "mapping.yaml")
	viper.SetDefault("migrate.batch_size", 500)
	viper.SetDefault("migrate.batch_timeout", "2m")
	viper.SetDefault("migrate.commit_timeout", "5m")
	viper.SetDefault("validate.sample_size", 3)
	viper.SetDefault("log.level", "warn")
}

func initConfig() {
	utils.LoadEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if exe, err := os.Executable(); err == nil {
			viper.AddConfigPath(filepath.Dir(exe))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("schemaport")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.BindEnv("source.dsn", "SOURCE_DATABASE_URL")
	viper.BindEnv("target.dsn", "TARGET_DATABASE_URL")

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	configureLogging()
}

func configureLogging() {
	level := slog.LevelWarn
	switch strings.ToLower(viper.GetString("log.level")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func openSource(ctx context.Context) (*database.Conn, error) {
	dsn := viper.GetString("source.dsn")
	if dsn == "" {
		return nil, fmt.Errorf("source database not configured: set --source, source.dsn, or SOURCE_DATABASE_URL")
	}
	return database.Open(ctx, viper.GetString("source.engine"), dsn, viper.GetString("source.schema"))
}

func openTarget(ctx context.Context) (*database.Conn, error) {
	dsn := viper.GetString("target.dsn")
	if dsn == "" {
		return nil, fmt.Errorf("target database not configured: set --target, target.dsn, or TARGET_DATABASE_URL")
	}
	return database.Open(ctx, viper.GetString("target.engine"), dsn, viper.GetString("target.schema"))
}

func loadRegistry() (*mapping.Registry, error) {
	return loader.Load(viper.GetString("mapping.file"))
}

// newMigrator wires a Migrator from the effective config. The returned
// closer shuts down both connections.
func newMigrator(ctx context.Context) (*migrate.Migrator, func(), error) {
	reg, err := loadRegistry()
	if err != nil {
		return nil, nil, err
	}
	src, err := openSource(ctx)
	if err != nil {
		return nil, nil, err
	}
	tgt, err := openTarget(ctx)
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	closer := func() {
		src.Close()
		tgt.Close()
	}
	m := &migrate.Migrator{
		Source:         src.DB,
		Target:         tgt.DB,
		SourceDialect:  src.Dialect,
		TargetDialect:  tgt.Dialect,
		SourceSchema:   src.Schema,
		TargetSchema:   tgt.Schema,
		Registry:       reg,
		BatchSize:      viper.GetInt("migrate.batch_size"),
		BatchTimeout:   viper.GetDuration("migrate.batch_timeout"),
		CommitTimeout:  viper.GetDuration("migrate.commit_timeout"),
		AbortOnFailure: viper.GetBool("migrate.abort_on_failure"),
	}
	return m, closer, nil
}

// validatorFor builds a Validator over the connections a Migrator already
// holds, so migrate --verify does not reconnect.
func validatorFor(m *migrate.Migrator) *validate.Validator {
	return &validate.Validator{
		Source:        m.Source,
		Target:        m.Target,
		SourceDialect: m.SourceDialect,
		TargetDialect: m.TargetDialect,
		SourceSchema:  m.SourceSchema,
		TargetSchema:  m.TargetSchema,
		Registry:      m.Registry,
		SampleSize:    viper.GetInt("validate.sample_size"),
	}
}

// newValidator wires a Validator over both databases.
func newValidator(ctx context.Context) (*validate.Validator, func(), error) {
	reg, err := loadRegistry()
	if err != nil {
		return nil, nil, err
	}
	src, err := openSource(ctx)
	if err != nil {
		return nil, nil, err
	}
	tgt, err := openTarget(ctx)
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	closer := func() {
		src.Close()
		tgt.Close()
	}
	v := &validate.Validator{
		Source:        src.DB,
		Target:        tgt.DB,
		SourceDialect: src.Dialect,
		TargetDialect: tgt.Dialect,
		SourceSchema:  src.Schema,
		TargetSchema:  tgt.Schema,
		Registry:      reg,
		SampleSize:    viper.GetInt("validate.sample_size"),
	}
	return v, closer, nil
}
