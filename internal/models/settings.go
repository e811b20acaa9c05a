package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Settings keys as stored in the settings table.
const (
	SettingPollIntervalMS      = "poll_interval_ms"
	SettingAutoSyncEnabled     = "auto_sync_enabled"
	SettingFilterNoReply       = "filter_noreply"
	SettingFilterInfoAddresses = "filter_info_addresses"
	SettingFilterPromotions    = "filter_promotions"
	SettingStripReplies        = "strip_replies"
	SettingMarkReadOnOpen      = "mark_read_on_open"
)

// Settings are the user-level toggles read by the classifier, the extractor and the poller.
type Settings struct {
	PollInterval        time.Duration `json:"-"`
	AutoSyncEnabled     bool          `json:"auto_sync_enabled"`
	FilterNoReply       bool          `json:"filter_noreply"`
	FilterInfoAddresses bool          `json:"filter_info_addresses"`
	FilterPromotions    bool          `json:"filter_promotions"`
	StripReplies        bool          `json:"strip_replies"`
	MarkReadOnOpen      bool          `json:"mark_read_on_open"`
}

func DefaultSettings() Settings {
	return Settings{
		PollInterval:        time.Second,
		AutoSyncEnabled:     true,
		FilterNoReply:       true,
		FilterInfoAddresses: true,
		FilterPromotions:    true,
		StripReplies:        true,
		MarkReadOnOpen:      true,
	}
}

// IsTruthy reports whether v is one of 1, true, yes, on (any case).
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// SettingsFromMap overlays stored raw values on the defaults. Unknown keys are ignored,
// and a malformed poll interval keeps the default.
func SettingsFromMap(raw map[string]string) Settings {
	s := DefaultSettings()
	if v, ok := raw[SettingPollIntervalMS]; ok {
		if ms, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && ms > 0 {
			s.PollInterval = time.Duration(ms) * time.Millisecond
		}
	}
	boolFields := map[string]*bool{
		SettingAutoSyncEnabled:     &s.AutoSyncEnabled,
		SettingFilterNoReply:       &s.FilterNoReply,
		SettingFilterInfoAddresses: &s.FilterInfoAddresses,
		SettingFilterPromotions:    &s.FilterPromotions,
		SettingStripReplies:        &s.StripReplies,
		SettingMarkReadOnOpen:      &s.MarkReadOnOpen,
	}
	for key, field := range boolFields {
		if v, ok := raw[key]; ok {
			*field = IsTruthy(v)
		}
	}
	return s
}

// ToMap renders settings in the stored string form.
func (s Settings) ToMap() map[string]string {
	return map[string]string{
		SettingPollIntervalMS:      strconv.FormatInt(s.PollInterval.Milliseconds(), 10),
		SettingAutoSyncEnabled:     boolString(s.AutoSyncEnabled),
		SettingFilterNoReply:       boolString(s.FilterNoReply),
		SettingFilterInfoAddresses: boolString(s.FilterInfoAddresses),
		SettingFilterPromotions:    boolString(s.FilterPromotions),
		SettingStripReplies:        boolString(s.StripReplies),
		SettingMarkReadOnOpen:      boolString(s.MarkReadOnOpen),
	}
}

// ValidateSettingsUpdate rejects unknown keys and a non-positive poll interval.
func ValidateSettingsUpdate(update map[string]string) error {
	known := DefaultSettings().ToMap()
	for key, value := range update {
		if _, ok := known[key]; !ok {
			return fmt.Errorf("unknown setting %q", key)
		}
		if key == SettingPollIntervalMS {
			ms, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || ms <= 0 {
				return fmt.Errorf("%s must be a positive integer", SettingPollIntervalMS)
			}
		}
	}
	return nil
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
