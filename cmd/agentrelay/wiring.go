package main

import (
	"errors"
	"fmt"

	"github.com/HyphaGroup/agentrelay/internal/audit"
	"github.com/HyphaGroup/agentrelay/internal/auth"
	"github.com/HyphaGroup/agentrelay/internal/config"
	"github.com/HyphaGroup/agentrelay/internal/logger"
	"github.com/HyphaGroup/agentrelay/internal/reconnect"
	"github.com/HyphaGroup/agentrelay/internal/relay"
	"github.com/HyphaGroup/agentrelay/internal/transcript"
	"github.com/HyphaGroup/agentrelay/internal/transport"
	"github.com/HyphaGroup/agentrelay/internal/transport/sse"
	"github.com/HyphaGroup/agentrelay/internal/transport/ws"
)

// relayDeps holds the long-lived collaborators shared by send and mcp
type relayDeps struct {
	session     *auth.Session
	credentials *auth.Store
	transcripts *transcript.Store
	pruner      *transcript.Pruner
	stopPersist func()
}

// newRelayDeps builds the auth session from the credential store and the
// configured static token, then opens the transcript store when enabled
func newRelayDeps(cfg *config.Config) (*relayDeps, error) {
	credentials, err := auth.NewStore(cfg.Auth.CredentialsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	d := &relayDeps{credentials: credentials}

	state, err := credentials.Load(cfg.Auth.Profile)
	if err != nil && !errors.Is(err, auth.ErrProfileNotFound) {
		d.Close()
		return nil, err
	}
	if token, ok := cfg.Auth.StaticToken(); ok {
		state.Token = token
	}
	d.session = auth.NewSession(state)

	// Only tokens that came from the store are written back. A token from
	// config or the environment stays out of the database.
	if _, static := cfg.Auth.StaticToken(); !static {
		d.stopPersist = credentials.Persist(d.session, cfg.Auth.Profile, func(err error) {
			logger.Slog().Warn("failed to persist credentials", "profile", cfg.Auth.Profile, "error", err)
		})
	}

	if cfg.Transcripts.Enabled {
		d.transcripts, err = transcript.NewStore(cfg.Transcripts.Dir)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to open transcript store: %w", err)
		}
		if cfg.Transcripts.PruneSchedule != "" && cfg.Transcripts.RetentionDays > 0 {
			d.pruner, err = transcript.NewPruner(d.transcripts, cfg.Transcripts.PruneSchedule, cfg.Transcripts.Retention())
			if err != nil {
				d.Close()
				return nil, err
			}
			d.pruner.Start()
		}
	}
	return d, nil
}

// adapterOptions returns relay options without callbacks
func (d *relayDeps) adapterOptions(cfg *config.Config) relay.Options {
	opts := relay.Options{
		Auth:          d.session,
		Throttle:      relay.NewThrottle(cfg.Send.RatePerSecond, cfg.Send.Burst),
		Audit:         audit.New(cfg.Audit.Enabled),
		TransportName: cfg.Transport,
		CancelTimeout: cfg.Send.CancelTimeout(),
	}
	if d.transcripts != nil {
		opts.Recorder = d.transcripts
	}
	return opts
}

// Close stops background work and closes the stores
func (d *relayDeps) Close() {
	if d.pruner != nil {
		d.pruner.Stop()
	}
	if d.stopPersist != nil {
		d.stopPersist()
	}
	if d.transcripts != nil {
		_ = d.transcripts.Close()
	}
	if d.credentials != nil {
		_ = d.credentials.Close()
	}
}

// newTransport builds the configured transport over session
func newTransport(cfg *config.Config, session *auth.Session) (transport.Transport, error) {
	switch cfg.Transport {
	case "websocket":
		return ws.New(ws.Options{
			URL:     cfg.Server.WebSocketURL,
			Session: session,
			Policy: reconnect.Policy{
				MaxAttempts:  cfg.Reconnect.MaxAttempts,
				BaseDelay:    cfg.Reconnect.BaseDelay(),
				MaxDelay:     cfg.Reconnect.MaxDelay(),
				PingInterval: cfg.Reconnect.PingInterval(),
			},
		}), nil
	case "sse":
		return sse.New(sse.Options{
			BaseURL:        cfg.Server.BaseURL,
			Session:        session,
			RequestTimeout: cfg.Server.RequestTimeout(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want websocket or sse)", cfg.Transport)
	}
}

// linkStatus describes the WebSocket link for error output. It is empty for
// transports without a persistent link.
func linkStatus(t transport.Transport) string {
	wt, ok := t.(*ws.Transport)
	if !ok {
		return ""
	}
	ctrl := wt.Controller()
	snap := ctrl.Snapshot()
	status := fmt.Sprintf("link %s (reconnect attempt %d/%d", snap.State, snap.Attempt, ctrl.Policy().MaxAttempts)
	if snap.LastCloseCode != 0 {
		status += fmt.Sprintf(", last close code %d", snap.LastCloseCode)
	}
	return status + ")"
}
