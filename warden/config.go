package warden

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/tabwarden/delivery"
)

// Settings is the user-editable configuration document. It lives in the
// settings store and can be changed through the API or by editing the
// database out of process; the watcher reloads it either way.
type Settings struct {
	Threshold Threshold `json:"threshold"`

	// Delivery maps platform names ("email", "chat") to their sender
	// configs. Absent platforms are disabled.
	Delivery map[string]json.RawMessage `json:"delivery,omitempty"`

	// ExportPath enables the markdown export log when non-empty.
	ExportPath string `json:"export_path,omitempty"`
}

// ReloadSettings reads the settings document and rebuilds the sender set
// and exporter. A threshold change wakes the scan loop so the new period
// takes effect immediately.
func (s *Service) ReloadSettings(ctx context.Context) error {
	var st Settings
	if _, err := s.cfg.Settings.Load(ctx, keySettings, &st); err != nil {
		return fmt.Errorf("warden: read settings: %w", err)
	}

	senders, err := delivery.FromConfig(st.Delivery, s.log)
	if err != nil {
		return err
	}
	var exporter *delivery.Exporter
	if st.ExportPath != "" {
		exporter = delivery.NewExporter(st.ExportPath)
	}

	s.mu.Lock()
	changed := s.settings.Threshold != st.Threshold
	s.settings = st
	s.senders = senders
	s.exporter = exporter
	s.mu.Unlock()

	if changed {
		s.wake()
	}
	s.log.Info("settings loaded",
		"threshold", st.Threshold.Duration().String(),
		"senders", len(senders),
		"export", st.ExportPath != "")
	return nil
}

// UpdateSettings persists the new settings document and applies it.
func (s *Service) UpdateSettings(ctx context.Context, st Settings) error {
	if st.Threshold.Hours < 0 || st.Threshold.Minutes < 0 {
		return fmt.Errorf("warden: threshold must not be negative")
	}
	if st.Threshold.Minutes > 59 {
		return fmt.Errorf("warden: threshold minutes must be between 0 and 59")
	}
	if err := s.cfg.Settings.Set(ctx, keySettings, st); err != nil {
		return fmt.Errorf("warden: write settings: %w", err)
	}
	return s.ReloadSettings(ctx)
}

// SettingsSnapshot returns the currently applied settings.
func (s *Service) SettingsSnapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// threshold returns the active threshold.
func (s *Service) threshold() Threshold {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Threshold
}
