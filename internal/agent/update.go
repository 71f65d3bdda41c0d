package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultUpdateCheck is used when the configured update interval is not positive.
const DefaultUpdateCheck = 60 * time.Second

// runUpdateChecks polls the update URL once immediately and then on every
// interval until ctx is cancelled.
func (a *Agent) runUpdateChecks(ctx context.Context) {
	interval := a.cfg.UpdateCheckDuration()
	if interval <= 0 {
		interval = DefaultUpdateCheck
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.checkForUpdate(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.checkForUpdate(ctx)
		}
	}
}

// checkForUpdate fetches release metadata and logs it. Applying updates is
// left to the device image tooling.
func (a *Agent) checkForUpdate(ctx context.Context) {
	release, err := a.fetchRelease(ctx)
	if err != nil {
		a.logger.Error("update check failed", "url", a.cfg.UpdateCheckURL, "error", err)
		return
	}
	a.logger.Debug("fetched update metadata", "release", release)
}

func (a *Agent) fetchRelease(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.UpdateCheckURL, nil)
	if err != nil {
		return nil, fmt.Errorf("update check: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("update check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("update check: status %d", resp.StatusCode)
	}

	var release map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("update check: decoding release: %w", err)
	}
	return release, nil
}
