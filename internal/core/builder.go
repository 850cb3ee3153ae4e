package core

import (
	"gotcp/config"
	"gotcp/internal/capability"
	"gotcp/internal/metrics"
	"gotcp/internal/pacer"
	"gotcp/tcp"
	"gotcp/util"
)

// Runtime carries the process-wide collaborators every mode shares.
// Zero values are valid: a nil logger is quiet, a nil collector
// records nothing and a nil pacer never waits for a token.
type Runtime struct {
	Logger  *util.Logger
	Metrics *metrics.Collector
	Pacer   *pacer.Pacer
}

// Build constructs the appropriate Mode from the given configuration.
func Build(cfg *config.Config, rt Runtime) (Mode, error) {
	rt.Logger = util.OrQuiet(rt.Logger)

	switch {
	case cfg.Listen && cfg.KeepOpen:
		srv, err := serverConfig(cfg, rt)
		if err != nil {
			return nil, err
		}
		return &ListenMode{
			Server:     srv,
			Capability: buildCapability(cfg),
			Logger:     rt.Logger,
		}, nil
	case cfg.Listen:
		srv, err := serverConfig(cfg, rt)
		if err != nil {
			return nil, err
		}
		return &OnceMode{
			Server:     srv,
			Capability: buildCapability(cfg),
			Logger:     rt.Logger,
		}, nil
	default:
		return &ConnectMode{
			Client: tcp.ClientConfig{
				Address: cfg.Host,
				Port:    cfg.Port,
				Timeout: cfg.Timeout,
				Logger:  rt.Logger,
				Metrics: rt.Metrics,
				Pacer:   rt.Pacer,
			},
			Capability: buildCapability(cfg),
			Logger:     rt.Logger,
		}, nil
	}
}

// ── shared helpers ───────────────────────────────────────────────────

func serverConfig(cfg *config.Config, rt Runtime) (tcp.ServerConfig, error) {
	srv := tcp.ServerConfig{
		Address:      cfg.BindAddress,
		Port:         cfg.LocalPort,
		Timeout:      cfg.Timeout,
		Backlog:      cfg.Backlog,
		WorkerBudget: cfg.Workers,
		RetryDelay:   config.DefaultRetryDelay,
		Logger:       rt.Logger,
		Metrics:      rt.Metrics,
		Pacer:        rt.Pacer,
	}

	rules, err := cfg.Firewall()
	if err != nil {
		return tcp.ServerConfig{}, err
	}
	// A nil *Rules in the interface would still be consulted.
	if !rules.Empty() {
		srv.Firewall = rules
	}
	return srv, nil
}

// buildCapability selects the per-connection behaviour.
func buildCapability(cfg *config.Config) capability.Capability {
	switch {
	case cfg.Execute != "" || cfg.Command != "":
		return &capability.Exec{
			Program: cfg.Execute,
			Command: cfg.Command,
		}
	case cfg.Echo:
		return &capability.Echo{}
	default:
		return &capability.Relay{}
	}
}
