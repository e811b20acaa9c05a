package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "Yes", " on "} {
		assert.True(t, IsTruthy(v), v)
	}
	for _, v := range []string{"0", "false", "no", "off", "", "enabled"} {
		assert.False(t, IsTruthy(v), v)
	}
}

func TestSettingsFromMap(t *testing.T) {
	t.Run("empty map yields defaults", func(t *testing.T) {
		assert.Equal(t, DefaultSettings(), SettingsFromMap(nil))
	})

	t.Run("overlays stored values", func(t *testing.T) {
		s := SettingsFromMap(map[string]string{
			SettingPollIntervalMS:   "5000",
			SettingFilterPromotions: "off",
			SettingStripReplies:     "no",
			"unrelated":             "1",
		})
		assert.Equal(t, 5*time.Second, s.PollInterval)
		assert.False(t, s.FilterPromotions)
		assert.False(t, s.StripReplies)
		assert.True(t, s.FilterNoReply)
	})

	t.Run("malformed interval keeps default", func(t *testing.T) {
		s := SettingsFromMap(map[string]string{SettingPollIntervalMS: "soon"})
		assert.Equal(t, time.Second, s.PollInterval)
	})
}

func TestSettingsToMapRoundTrip(t *testing.T) {
	s := DefaultSettings()
	s.FilterInfoAddresses = false
	s.PollInterval = 2500 * time.Millisecond
	assert.Equal(t, s, SettingsFromMap(s.ToMap()))
}

func TestValidateSettingsUpdate(t *testing.T) {
	assert.NoError(t, ValidateSettingsUpdate(map[string]string{SettingStripReplies: "0"}))
	assert.Error(t, ValidateSettingsUpdate(map[string]string{"theme": "dark"}))
	assert.Error(t, ValidateSettingsUpdate(map[string]string{SettingPollIntervalMS: "-1"}))
}
