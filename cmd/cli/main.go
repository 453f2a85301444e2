package main

import (
	"context"
	"log"
	"os"

	"github.com/medkeep/phivault/internal/cli"
	"github.com/medkeep/phivault/internal/flagx"
	"github.com/medkeep/phivault/internal/server/config"
)

// configFlags are owned by the config package; the CLI dispatcher must not
// see them.
var configFlags = []string{"-d", "-s", "-j", "-t", "-m", "-u", "-p", "-b", "-g", "-e", "-c", "-config"}

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := cli.NewApp(cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}
	defer app.Close()

	if err := app.Run(ctx, flagx.ExcludeArgs(os.Args[1:], configFlags)); err != nil {
		log.Fatalf("%v", err)
	}

}
