package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"hwbuttons/internal/buttons"
)

// ============================================================================
// Host Bridge
// ============================================================================
// hostBridge stands in for the display application the buttons drive:
//   - playlists come from the daemon config, positions persist in the store
//   - the host reports what it shows over IPC (set_refresh_info)
//   - refresh requests are posted to host.update_url as JSON
// ============================================================================

const (
	hostUpdateTimeout   = 10 * time.Second
	playlistPositionKey = "playlist_positions"
	timezoneKey         = "timezone"
)

type hostInstance struct {
	owner string
	name  string
}

func (i hostInstance) OwnerID() string { return i.owner }
func (i hostInstance) Name() string    { return i.name }

// hostPlaylist is a rotation of instances with an optional daily window.
type hostPlaylist struct {
	name      string
	instances []buttons.Instance

	hasWindow  bool
	start, end int // minutes since midnight

	mu       sync.Mutex
	index    int
	hasIndex bool
}

func newHostPlaylist(cfg PlaylistConfig) *hostPlaylist {
	p := &hostPlaylist{name: cfg.Name}
	for _, inst := range cfg.Instances {
		p.instances = append(p.instances, hostInstance{owner: inst.OwnerID, name: inst.Name})
	}
	if cfg.Start != "" && cfg.End != "" {
		start, errS := parseClock(cfg.Start)
		end, errE := parseClock(cfg.End)
		if errS == nil && errE == nil {
			p.hasWindow, p.start, p.end = true, start, end
		}
	}
	return p
}

func (p *hostPlaylist) Name() string                  { return p.name }
func (p *hostPlaylist) Instances() []buttons.Instance { return p.instances }

func (p *hostPlaylist) CurrentIndex() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index, p.hasIndex
}

func (p *hostPlaylist) SetCurrentIndex(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.instances) {
		return
	}
	p.index, p.hasIndex = i, true
}

func (p *hostPlaylist) AdvanceAndGetNext() buttons.Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.instances) == 0 {
		return nil
	}
	if p.hasIndex {
		p.index = (p.index + 1) % len(p.instances)
	} else {
		p.index, p.hasIndex = 0, true
	}
	return p.instances[p.index]
}

func (p *hostPlaylist) FindInstance(ownerID, instanceName string) buttons.Instance {
	if i := p.find(ownerID, instanceName); i >= 0 {
		return p.instances[i]
	}
	return nil
}

func (p *hostPlaylist) find(ownerID, instanceName string) int {
	for i, inst := range p.instances {
		if inst.OwnerID() == ownerID && inst.Name() == instanceName {
			return i
		}
	}
	return -1
}

// covers reports whether the playlist's window contains minute-of-day m.
func (p *hostPlaylist) covers(m int) bool {
	if !p.hasWindow {
		return false
	}
	if p.start <= p.end {
		return m >= p.start && m < p.end
	}
	return m >= p.start || m < p.end
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return h*60 + m, nil
}

type hostBridgeConfig struct {
	Host   HostConfig
	Store  *Store
	Client *http.Client

	// OnRefresh observes every change of the "now showing" info.
	OnRefresh func(buttons.RefreshInfo)

	Logger *slog.Logger
}

// hostBridge implements buttons.DeviceState, buttons.RefreshTrigger and buttons.PlaylistManager.
type hostBridge struct {
	cfg       HostConfig
	store     *Store
	client    *http.Client
	onRefresh func(buttons.RefreshInfo)
	logger    *slog.Logger

	playlists map[string]*hostPlaylist
	order     []*hostPlaylist

	mu   sync.Mutex
	info buttons.RefreshInfo
}

func newHostBridge(cfg hostBridgeConfig) *hostBridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: hostUpdateTimeout}
	}
	h := &hostBridge{
		cfg:       cfg.Host,
		store:     cfg.Store,
		client:    client,
		onRefresh: cfg.OnRefresh,
		logger:    logger,
		playlists: make(map[string]*hostPlaylist, len(cfg.Host.Playlists)),
	}
	for _, pc := range cfg.Host.Playlists {
		p := newHostPlaylist(pc)
		h.playlists[p.name] = p
		h.order = append(h.order, p)
	}
	h.restorePositions()
	return h
}

// restorePositions reloads playlist indexes written by WriteConfig.
func (h *hostBridge) restorePositions() {
	if h.store == nil {
		return
	}
	raw, ok := h.store.Config(playlistPositionKey)
	if !ok {
		return
	}
	positions, ok := raw.(map[string]any)
	if !ok {
		return
	}
	for name, v := range positions {
		p, ok := h.playlists[name]
		if !ok {
			continue
		}
		if i, ok := v.(int); ok {
			p.SetCurrentIndex(i)
		}
	}
}

// ---------------------------------------------------------------------------
// DeviceState
// ---------------------------------------------------------------------------

func (h *hostBridge) RefreshInfo() buttons.RefreshInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info
}

// SetRefreshInfo records what the host is showing and keeps the playlist position in step.
func (h *hostBridge) SetRefreshInfo(info buttons.RefreshInfo) {
	if info.RefreshKind == buttons.RefreshKindPlaylist {
		if p, ok := h.playlists[info.PlaylistName]; ok {
			if i := p.find(info.OwnerID, info.InstanceName); i >= 0 {
				p.SetCurrentIndex(i)
			}
		}
	}

	h.mu.Lock()
	changed := h.info != info
	h.info = info
	h.mu.Unlock()

	if changed {
		h.logger.Debug("refresh info changed", "owner_id", info.OwnerID, "instance", info.InstanceName,
			"refresh_kind", info.RefreshKind, "playlist", info.PlaylistName)
		if h.onRefresh != nil {
			h.onRefresh(info)
		}
	}
}

func (h *hostBridge) Config(key string) (any, bool) {
	if key == timezoneKey && h.cfg.Timezone != "" {
		return h.cfg.Timezone, true
	}
	if h.store == nil {
		return nil, false
	}
	return h.store.Config(key)
}

func (h *hostBridge) UpdateConfig(key string, value any, persist bool) error {
	if h.store == nil {
		return fmt.Errorf("update config %q: no store", key)
	}
	return h.store.UpdateConfig(key, value, persist)
}

// ---------------------------------------------------------------------------
// RefreshTrigger
// ---------------------------------------------------------------------------

// ManualUpdate forwards req to the host and records it as the new refresh info.
func (h *hostBridge) ManualUpdate(req buttons.RefreshRequest) error {
	if h.cfg.UpdateURL != "" {
		if err := h.postUpdate(req); err != nil {
			return err
		}
	}
	info := buttons.RefreshInfo{OwnerID: req.OwnerID, InstanceName: req.Instance}
	if req.Playlist != "" {
		info.RefreshKind = buttons.RefreshKindPlaylist
		info.PlaylistName = req.Playlist
	}
	h.logger.Info("refresh requested", "playlist", req.Playlist, "owner_id", req.OwnerID,
		"instance", req.Instance, "force", req.Force)
	h.SetRefreshInfo(info)
	return nil
}

func (h *hostBridge) postUpdate(req buttons.RefreshRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode refresh request: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), hostUpdateTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.UpdateURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("refresh request: host returned status %d", resp.StatusCode)
	}
	return nil
}

// ---------------------------------------------------------------------------
// PlaylistManager
// ---------------------------------------------------------------------------

func (h *hostBridge) ActivePlaylist() string { return h.cfg.ActivePlaylist }

// DetermineActive picks the playlist whose window covers now, falling back to the first
// playlist without a window.
func (h *hostBridge) DetermineActive(now time.Time) buttons.Playlist {
	minute := now.Hour()*60 + now.Minute()
	var fallback *hostPlaylist
	for _, p := range h.order {
		if p.covers(minute) {
			return p
		}
		if !p.hasWindow && fallback == nil {
			fallback = p
		}
	}
	if fallback == nil {
		return nil
	}
	return fallback
}

func (h *hostBridge) Playlist(name string) buttons.Playlist {
	if p, ok := h.playlists[name]; ok {
		return p
	}
	return nil
}

// WriteConfig persists the current playlist positions into the store.
func (h *hostBridge) WriteConfig() error {
	positions := make(map[string]any, len(h.order))
	for _, p := range h.order {
		if i, ok := p.CurrentIndex(); ok {
			positions[p.name] = i
		}
	}
	return h.UpdateConfig(playlistPositionKey, positions, true)
}
