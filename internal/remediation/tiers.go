package remediation

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/relay"
)

// reconnectProtocols are the session families the reconnect tier clears.
// Kicking an RTSP or RTSPS session forces both sidecar publishers and stuck
// proxy pulls to re-establish; other protocols are left alone.
var reconnectProtocols = []models.Protocol{models.ProtocolRTSP, models.ProtocolRTSPS}

// reconnect kicks every RTSP and RTSPS session bound to the path, publisher
// included. The attempt succeeds when at least one session was kicked.
func (e *Engine) reconnect(ctx context.Context, api NodeAPI, path string) error {
	kicked := 0
	for _, protocol := range reconnectProtocols {
		sessions, err := api.ListSessions(ctx, protocol)
		if err != nil {
			if errors.Is(err, relay.ErrProtocolDisabled) {
				continue
			}
			return fmt.Errorf("listing %s sessions: %w", protocol, err)
		}
		for _, session := range sessions {
			if session.Path != path {
				continue
			}
			if err := api.KickSession(ctx, protocol, session.ID); err != nil {
				return fmt.Errorf("kicking %s session %s: %w", protocol, session.ID, err)
			}
			kicked++
		}
	}
	if kicked == 0 {
		return fmt.Errorf("no rtsp/rtsps sessions on path %s", path)
	}
	return nil
}

// restartSidecar cycles the path's configuration entry: read the current
// config, delete the path, wait for the node to tear it down, then re-add
// the same body. A sidecar watching the path reconnects from scratch.
func (e *Engine) restartSidecar(ctx context.Context, api NodeAPI, path string) error {
	conf, err := api.GetPathConfig(ctx, path)
	if err != nil {
		return fmt.Errorf("reading path config: %w", err)
	}

	if err := api.DeletePath(ctx, path); err != nil {
		return fmt.Errorf("deleting path: %w", err)
	}

	if e.cfg.SidecarRestartPause > 0 {
		if err := e.sleep(ctx, e.cfg.SidecarRestartPause); err != nil {
			return err
		}
	}

	if err := api.AddPath(ctx, path, conf); err != nil {
		return fmt.Errorf("re-adding path: %w", err)
	}
	return nil
}

// restartPath drops the path entirely and recreates it from the known
// source URL alone, shedding whatever config drift accumulated on the node.
func (e *Engine) restartPath(ctx context.Context, api NodeAPI, stream *models.Stream) error {
	if err := api.DeletePath(ctx, stream.Path); err != nil && !errors.Is(err, relay.ErrPathNotFound) {
		// A 404 here means the entry was already gone, which is fine.
		if !relay.IsBadStatus(err, 404) {
			return fmt.Errorf("deleting path: %w", err)
		}
	}

	if e.cfg.SidecarRestartPause > 0 {
		if err := e.sleep(ctx, e.cfg.SidecarRestartPause); err != nil {
			return err
		}
	}

	if err := api.AddPath(ctx, stream.Path, relay.PathConf{"source": stream.SourceURL}); err != nil {
		return fmt.Errorf("recreating path: %w", err)
	}
	return nil
}

// restartRelay runs the operator-provided restart command with {node}
// substituted. The command typically restarts the node's container.
func (e *Engine) restartRelay(ctx context.Context, node *models.Node) error {
	argv := make([]string, len(e.cfg.RelayRestartCommand))
	for i, arg := range e.cfg.RelayRestartCommand {
		argv[i] = strings.ReplaceAll(arg, "{node}", node.Name)
	}

	if e.cfg.RelayRestartTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RelayRestartTimeout)
		defer cancel()
	}

	return e.runner.Run(ctx, argv)
}

// execRunner runs commands through os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
