package registry

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"

	"github.com/dukex/flowbase/pkg/protocol"
)

// LoadIntegrationPlugins opens every .so under {pluginsPath}/integrations
// and registers the exported "Integration" symbol of each.
func (r *Registry) LoadIntegrationPlugins(ctx context.Context, pluginsPath string) error {
	integrations, err := loadPlugin[protocol.Integration](ctx, r.logger, pluginsPath, "Integration")
	if err != nil {
		return err
	}

	for _, integration := range integrations {
		if err := r.RegisterIntegration(integration); err != nil {
			return err
		}
	}

	return nil
}

func loadPlugin[T any](ctx context.Context, logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := filepath.Join(pluginsPath, "integrations")

	if _, err := os.Stat(rootPath); os.IsNotExist(err) {
		return nil, nil
	}

	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "*.so")
	if err != nil {
		return nil, err
	}

	nested, err := fs.Glob(root, "*/*.so")
	if err != nil {
		return nil, err
	}

	pluginPathList = append(pluginPathList, nested...)

	l := logger.With(slog.String("path", rootPath), slog.String("type", symbolName))
	l.InfoContext(ctx, "Loading plugins", "count", len(pluginPathList))

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(filepath.Join(rootPath, p))
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s does not export %s: %w", p, symbolName, err)
		}

		castV, ok := v.(T)
		if !ok {
			if ptr, isPtr := v.(*T); isPtr {
				castV = *ptr
			} else {
				return nil, fmt.Errorf("plugin %s: symbol %s has type %T", p, symbolName, v)
			}
		}

		pluginList = append(pluginList, castV)

		l.InfoContext(ctx, "Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
