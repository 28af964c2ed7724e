package buttons

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	scriptTimeout  = 30 * time.Second
	urlTimeout     = 10 * time.Second
	systemTimeout  = 10 * time.Second
	defaultService = "hwbuttons"
)

// CommandFunc runs an external command in dir (empty = current directory) with the
// process environment.
type CommandFunc func(ctx context.Context, dir, name string, args ...string) error

func runCommand(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// ResolveScriptPath expands and resolves path and checks that it names a regular file
// strictly below home. Symlinks are resolved on both sides before the check.
func ResolveScriptPath(path, home string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrScriptNotFound)
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrScriptNotFound, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrScriptNotFound, abs)
	}
	homeResolved, err := filepath.EvalSymlinks(home)
	if err != nil {
		return "", fmt.Errorf("resolve home %s: %w", home, err)
	}

	prefix := strings.TrimSuffix(homeResolved, string(filepath.Separator)) + string(filepath.Separator)
	if !strings.HasPrefix(resolved, prefix) {
		return "", fmt.Errorf("%w: %s (home %s)", ErrScriptOutsideHome, resolved, homeResolved)
	}

	st, err := os.Stat(resolved)
	if err != nil || !st.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrScriptNotFound, resolved)
	}
	return resolved, nil
}

func (d *Dispatcher) homeDir() (string, error) {
	if d.home != "" {
		return d.home, nil
	}
	return os.UserHomeDir()
}

// runExternalScript runs `bash <script>` from the script's directory. Failures are logged only.
func (d *Dispatcher) runExternalScript(ctx context.Context, actx ActionContext) {
	log := d.logger.With("action_id", ActionExternalScript, "exec_id", actx.ExecutionID)
	if strings.TrimSpace(actx.Aux.ScriptPath) == "" {
		log.Warn("external script: no script path configured")
		return
	}
	home, err := d.homeDir()
	if err != nil {
		log.Warn("external script: cannot determine home directory", "error", err)
		return
	}
	script, err := ResolveScriptPath(actx.Aux.ScriptPath, home)
	if err != nil {
		log.Warn("external script rejected", "path", actx.Aux.ScriptPath, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	log.Debug("running external script", "path", script)
	if err := d.run(ctx, filepath.Dir(script), "bash", script); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Warn("external script timed out", "path", script, "timeout", scriptTimeout)
			return
		}
		log.Warn("external script failed", "path", script, "error", err)
	}
}

// callURL issues a single GET. Non-2xx responses and transport errors are logged only.
func (d *Dispatcher) callURL(ctx context.Context, actx ActionContext) {
	log := d.logger.With("action_id", ActionCallURL, "exec_id", actx.ExecutionID)
	url := strings.TrimSpace(actx.Aux.URL)
	if url == "" {
		log.Warn("call url: no url configured")
		return
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		log.Warn("call url rejected", "url", url, "error", ErrInvalidURL)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, urlTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Warn("call url: bad request", "url", url, "error", err)
		return
	}
	log.Info("calling url", "url", url)
	resp, err := d.client.Do(req)
	if err != nil {
		log.Warn("call url failed", "url", url, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn("call url: non-2xx response", "url", url, "status", resp.StatusCode)
		return
	}
	log.Debug("call url succeeded", "url", url, "status", resp.StatusCode)
}

func (d *Dispatcher) systemCommand(ctx context.Context, actx ActionContext, args ...string) {
	ctx, cancel := context.WithTimeout(ctx, systemTimeout)
	defer cancel()

	d.logger.Info("running system command", "command", strings.Join(args, " "), "exec_id", actx.ExecutionID)
	if err := d.run(ctx, "", args[0], args[1:]...); err != nil {
		d.logger.Warn("system command failed", "command", strings.Join(args, " "),
			"exec_id", actx.ExecutionID, "error", err)
	}
}

func (d *Dispatcher) serviceName() string {
	if name := strings.TrimSpace(os.Getenv("APPNAME")); name != "" {
		return name
	}
	if d.service != "" {
		return d.service
	}
	return defaultService
}

// localNow returns the current time in the host's configured timezone.
func localNow(dev DeviceState) time.Time {
	now := time.Now()
	if dev == nil {
		return now.UTC()
	}
	if v, ok := dev.Config("timezone"); ok {
		if name, ok := v.(string); ok && name != "" {
			if loc, err := time.LoadLocation(name); err == nil {
				return now.In(loc)
			}
		}
	}
	return now.UTC()
}

func (d *Dispatcher) resolvePlaylist(actx ActionContext) Playlist {
	pm := actx.Playlists
	if name := pm.ActivePlaylist(); name != "" {
		return pm.Playlist(name)
	}
	return pm.DetermineActive(localNow(actx.Device))
}

func (d *Dispatcher) runCore(_ context.Context, id string, actx ActionContext) error {
	log := d.logger.With("action_id", id, "exec_id", actx.ExecutionID)
	if actx.Refresh == nil || actx.Device == nil || actx.Playlists == nil {
		log.Warn("core action unavailable: host handles missing")
		return nil
	}

	switch id {
	case ActionTriggerRefresh, ActionNextPlaylist:
		pl := d.resolvePlaylist(actx)
		if pl == nil || len(pl.Instances()) == 0 {
			log.Info("no active playlist or playlist is empty")
			return nil
		}
		inst := pl.AdvanceAndGetNext()
		if inst == nil {
			return nil
		}
		return d.manualUpdate(actx, pl, inst)

	case ActionForceRefresh:
		info := actx.Device.RefreshInfo()
		if info.PlaylistName == "" || info.InstanceName == "" {
			log.Info("force refresh only supported after a playlist refresh")
			return nil
		}
		pl := actx.Playlists.Playlist(info.PlaylistName)
		if pl == nil {
			return nil
		}
		inst := pl.FindInstance(info.OwnerID, info.InstanceName)
		if inst == nil {
			return nil
		}
		return d.manualUpdate(actx, pl, inst)

	case ActionPrevPlaylist:
		pl := d.resolvePlaylist(actx)
		if pl == nil {
			return nil
		}
		instances := pl.Instances()
		if len(instances) == 0 {
			return nil
		}
		idx, ok := pl.CurrentIndex()
		if !ok {
			idx = 0
		}
		prev := ((idx-1)%len(instances) + len(instances)) % len(instances)
		pl.SetCurrentIndex(prev)
		if err := d.manualUpdate(actx, pl, instances[prev]); err != nil {
			return err
		}
		if err := actx.Playlists.WriteConfig(); err != nil {
			log.Warn("persist playlist position failed", "error", err)
		}
		return nil
	}
	return nil
}

func (d *Dispatcher) manualUpdate(actx ActionContext, pl Playlist, inst Instance) error {
	req := RefreshRequest{
		Playlist: pl.Name(),
		OwnerID:  inst.OwnerID(),
		Instance: inst.Name(),
		Force:    true,
	}
	d.logger.Debug("requesting refresh", "playlist", req.Playlist, "owner", req.OwnerID,
		"instance", req.Instance, "exec_id", actx.ExecutionID)
	if err := actx.Refresh.ManualUpdate(req); err != nil {
		return fmt.Errorf("manual update %s/%s: %w", req.Playlist, req.Instance, err)
	}
	return nil
}
