package config

import (
	"github.com/rickgao/relaychat/internal/connection"
	"github.com/rickgao/relaychat/internal/model"
)

// ManagerConfig converts the loaded config into connection manager settings.
// Call after defaults have been applied.
func (c *Config) ManagerConfig() connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.Endpoints = append([]string(nil), c.Endpoints...)

	seq := &mc.Sequencer
	seq.MaxReconnectAttempts = c.Connection.MaxReconnectAttempts
	seq.AttemptTimeout = c.Connection.AttemptTimeout
	seq.WatchdogTimeout = c.Connection.WatchdogTimeout
	seq.ProbeTimeout = c.Connection.ProbeTimeout
	if c.Connection.ProbeEnabled != nil {
		seq.ProbeEnabled = *c.Connection.ProbeEnabled
	}
	seq.Transport.ReconnectionAttempts = c.Connection.TransportReconnectAttempts
	if len(c.Connection.Transports) > 0 {
		seq.Transport.Transports = append([]string(nil), c.Connection.Transports...)
	}
	if c.Connection.Path != "" {
		seq.Transport.Path = c.Connection.Path
	}

	mc.RegistrationTimeout = c.Messaging.RegistrationTimeout
	mc.TypingStopDelay = c.Messaging.TypingStopDelay
	mc.DedupWindow = c.Messaging.DedupWindow
	mc.RetryInterval = c.Connection.RetryInterval
	mc.MaxRetryCycles = c.Connection.MaxRetryCycles
	return mc
}

// Profile returns the registration profile.
func (c *Config) Profile() model.Profile {
	return model.Profile{
		Username: c.Client.Username,
		Age:      c.Client.Age,
		Gender:   c.Client.Gender,
		Country:  c.Client.Country,
		Extra:    c.Client.Profile,
	}
}
