package app

import (
	"context"
	"fmt"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"converge/internal/config"
	"converge/internal/sample/webpage"
	"converge/pkg/apis/sample/v1alpha1"
	"converge/pkg/logging"
)

// kubernetesClient creates a client for the cluster found through the
// standard controller-runtime detection (in-cluster config, kubeconfig).
// It fails unless the WebPage CRD is installed.
var kubernetesClient = func(ctx context.Context) (client.WithWatch, error) {
	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get Kubernetes config: %w", err)
	}
	c, err := client.NewWithWatch(restConfig, client.Options{Scheme: v1alpha1.Scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}
	if err := c.List(ctx, &v1alpha1.WebPageList{}, client.Limit(1)); err != nil {
		return nil, fmt.Errorf("WebPage resources are not available: %w", err)
	}
	return c, nil
}

// resolveStores picks the store backend for mode. In auto mode Kubernetes
// is used when reachable, the filesystem otherwise.
func resolveStores(ctx context.Context, cfg config.Config, mode config.Mode) (webpage.Stores, config.Mode, error) {
	switch mode {
	case config.ModeKubernetes:
		c, err := kubernetesClient(ctx)
		if err != nil {
			return webpage.Stores{}, mode, err
		}
		return webpage.KubernetesStores(c), mode, nil

	case config.ModeFilesystem:
		stores, err := webpage.FilesystemStores(cfg.FilesystemPath)
		return stores, mode, err

	case config.ModeAuto, "":
		c, err := kubernetesClient(ctx)
		if err == nil {
			logging.Info("Bootstrap", "Kubernetes detected, storing resources in the cluster")
			return webpage.KubernetesStores(c), config.ModeKubernetes, nil
		}
		logging.Debug("Bootstrap", "Kubernetes not available (%v), falling back to filesystem mode", err)
		stores, err := webpage.FilesystemStores(cfg.FilesystemPath)
		return stores, config.ModeFilesystem, err

	default:
		return webpage.Stores{}, mode, fmt.Errorf("unknown mode %q", mode)
	}
}
