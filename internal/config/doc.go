// Package config provides configuration management for converge.
//
// Configuration is loaded from config.yaml in a single directory. The default
// directory is ~/.config/converge; commands accept --config-path to point
// elsewhere. Defaults are applied first, then the file, then validation. A
// missing file is not an error.
//
// # Configuration Structure
//
//	mode: auto                      # auto, kubernetes or filesystem (default: auto)
//	filesystemPath: resources       # root of the filesystem store, relative to the config directory
//	metricsAddress: ":8080"         # empty disables /metrics
//	shutdownTimeout: 30s
//	workers:
//	  reconcile: 10                 # concurrent reconciliations
//	  workflow: 10                  # concurrent workflow node operations
//	controllers:
//	  webpages:
//	    finalizer: webpages.converge.io/finalizer   # "-" disables
//	    namespaces: [default]
//	    labelSelector: "tier=frontend"
//	    retry:
//	      maxAttempts: 5
//	      initialInterval: 2s
//	      multiplier: 1.5
//	      maxInterval: 1m
//	    rateLimit:
//	      limit: 2
//	      period: 1s
//	    maxReconciliationInterval: 10h
//	    generationAware: true
//	    throwWorkflowErrors: true
//	    versionComparison: numeric  # numeric or lexical
//
// Durations are strings accepted by time.ParseDuration.
//
// # Usage
//
//	cfg, err := config.LoadConfig(config.GetDefaultConfigPathOrPanic())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	opts, err := config.ControllerOptions[*v1alpha1.WebPage](cfg.Controller("webpages"))
//
// Configuration values are passed explicitly to the components that need
// them; nothing in this package is global.
package config
