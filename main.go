package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/budgetwatch/budgetwatch/internal/cli"
	"github.com/budgetwatch/budgetwatch/internal/utils"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

func init() {
	level := os.Getenv("LOG_LEVEL")
	if level != "" {
		logrusLevel, err := log.ParseLevel(level)
		if err != nil {
			log.Fatal(err)
		}
		log.SetLevel(logrusLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCommand(afero.NewOsFs(), utils.SystemClock{})
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		log.Fatal(err)
	}
}
