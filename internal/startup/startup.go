package startup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codex-k8s/browser-mcp-relay/internal/executil"
	"github.com/codex-k8s/browser-mcp-relay/internal/settings"
)

// Run executes configured startup hooks sequentially.
func Run(ctx context.Context, hooks []settings.HookConfig, data executil.TemplateData, logger *slog.Logger) error {
	for idx, hook := range hooks {
		if strings.TrimSpace(hook.Command) == "" {
			continue
		}
		hookCtx := ctx
		cancel := context.CancelFunc(func() {})
		if strings.TrimSpace(hook.Timeout) != "" {
			timeout, err := time.ParseDuration(hook.Timeout)
			if err != nil {
				return fmt.Errorf("startup hook %d: invalid timeout: %w", idx, err)
			}
			hookCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		logger.Info("running startup hook", "index", idx)
		output, _, err := executil.RunCommand(hookCtx, hook.Command, hook.Args, hook.Env, data)
		cancel()
		if err != nil {
			if strings.TrimSpace(output) != "" {
				logger.Error("startup hook failed", "index", idx, "output", strings.TrimSpace(output))
			}
			return fmt.Errorf("startup hook %d failed: %w", idx, err)
		}
		if strings.TrimSpace(output) != "" {
			logger.Info("startup hook output", "index", idx, "output", strings.TrimSpace(output))
		}
	}
	return nil
}
