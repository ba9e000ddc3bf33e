// mongox migrates a MongoDB collection into a PostgreSQL-wire-protocol
// target cluster using the parallel partitioned migration engine in
// pkg/migration. Invocation takes a single positional argument: the
// path to a properties file. Grounded on block/spirit's
// cmd/lint/lint.go: a flat func main() with no flag parsing beyond
// the one positional argument.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/blockmigrate/mongox/pkg/config"
	"github.com/blockmigrate/mongox/pkg/migration"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := logrus.New()

	if len(os.Args) < 2 {
		logger.Error("usage: mongox <properties-file>")
		return 2
	}
	propsPath := os.Args[1]

	props, err := config.Load(propsPath)
	if err != nil {
		logger.Errorf("loading properties file: %v", err)
		return 2
	}
	props.OverrideFromEnv(os.LookupEnv)

	migrationCfg, err := config.MigrationFromProperties(props)
	if err != nil {
		logger.Errorf("invalid migration configuration: %v", err)
		return 2
	}
	mapping, err := config.MappingFromProperties(props)
	if err != nil {
		logger.Errorf("invalid table mapping configuration: %v", err)
		return 2
	}

	runner, err := migration.NewRunner(migrationCfg, mapping, logger)
	if err != nil {
		logger.Errorf("could not construct migration runner: %v", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil {
		logger.Errorf("migration failed: %v", err)
		return 1
	}
	fmt.Println("migration finished")
	return 0
}
