package app

import (
	intrnl "pulsechat/internal"
)

// RunClient launches the Bubble Tea TUI with the provided configuration.
func RunClient(cfg ClientConfig) error {
	cfg = ClientConfigFromEnv(cfg)
	return intrnl.RunTUI(intrnl.ClientConfig{
		JoinURL:     cfg.ServerURL,
		SessionPath: cfg.SessionPath,
		SuggestURL:  cfg.SuggestURL,
	})
}
