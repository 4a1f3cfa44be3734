// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package dispatch

import (
	"flag"
	"fmt"
	"io"
	"net/http"

	"git.arvados.org/dsched.git/lib/cmd"
	"git.arvados.org/dsched.git/lib/config"
	"git.arvados.org/dsched.git/sdk/go/ctxlog"
	"git.arvados.org/dsched.git/sdk/go/dsim"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Command cmd.Handler = dispatchCommand{}

type dispatchCommand struct{}

func (dispatchCommand) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()

	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configFile := flags.String("config", "", "client configuration `file` (YAML)")
	address := flags.String("address", "", "simulation server address, `host:port`")
	identity := flags.String("identity", "", "session identity sent in the AUTH message")
	catalogPath := flags.String("catalog", "", "server catalog `file` (ds-system.xml)")
	costBias := flags.Float64("cost-bias", 0, "tie-breaker weight for the hourly rate (smaller is gentler)")
	bootPenalty := flags.Duration("default-boot-penalty", 0, "boot `penalty` for server types missing from the catalog")
	metricsAddress := flags.String("metrics-address", "", "serve prometheus metrics on `host:port` while the session runs")
	quiet := flags.Bool("quiet", false, "log warnings and errors only")
	if ok, code := cmd.ParseFlags(flags, prog, args, "", stderr); !ok {
		return code
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return 1
	}
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "address":
			cfg.Address = *address
		case "identity":
			cfg.Identity = *identity
		case "catalog":
			cfg.CatalogPath = *catalogPath
		case "cost-bias":
			cfg.CostBias = *costBias
		case "default-boot-penalty":
			cfg.DefaultBootPenalty = config.Duration(*bootPenalty)
		case "metrics-address":
			cfg.MetricsAddress = *metricsAddress
		case "quiet":
			if *quiet {
				cfg.LogLevel = "warn"
			}
		}
	})

	logger := ctxlog.New(stderr, cfg.LogFormat, cfg.LogLevel)
	defer func() {
		if err != nil {
			logger.WithError(err).Error("session failed")
			// suppress output from the other error-printing func
			err = nil
		}
	}()

	catalog, err := dsim.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		logger.WithError(err).WithField("Path", cfg.CatalogPath).Warn("cannot read server catalog, falling back to reported values")
		catalog = dsim.EmptyCatalog()
		err = nil
	} else if catalog.Len() == 0 {
		logger.WithField("Path", cfg.CatalogPath).Info("server catalog empty or absent, using reported values")
	}

	client, err := dsim.Dial(cfg.Address, logger)
	if err != nil {
		return 1
	}
	defer client.Close()

	reg := prometheus.NewRegistry()
	if cfg.MetricsAddress != "" {
		go func() {
			srverr := http.ListenAndServe(cfg.MetricsAddress, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			logger.WithError(srverr).Error("metrics server stopped")
		}()
	}

	disp := &dispatcher{
		Client:             client,
		Catalog:            catalog,
		Identity:           cfg.Identity,
		Logger:             logger,
		Registry:           reg,
		CostBias:           cfg.CostBias,
		DefaultBootPenalty: cfg.DefaultBootPenalty.Seconds(),
	}
	err = disp.Run()
	if err != nil {
		return 1
	}
	logger.Info("session finished")
	return 0
}
