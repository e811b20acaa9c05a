package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/vdavid/mailchat/internal/models"
)

// SettingsStore is the part of the store the settings endpoints use.
type SettingsStore interface {
	GetSettings(ctx context.Context) (models.Settings, error)
	SaveSettings(ctx context.Context, update map[string]string) error
}

// SettingsHandler handles settings-related API requests.
type SettingsHandler struct {
	store SettingsStore
}

// NewSettingsHandler creates a new SettingsHandler instance.
func NewSettingsHandler(store SettingsStore) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// GetSettings returns every setting in its stored string form, defaults included.
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, "SettingsHandler", err)
		return
	}

	writeJSON(w, http.StatusOK, settings.ToMap())
}

// PostSettings saves the given keys. Values may be strings, booleans or numbers;
// unknown keys reject the whole update.
func (h *SettingsHandler) PostSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !decodeJSON(w, r, &req) {
		return
	}

	update := make(map[string]string, len(req))
	for key, value := range req {
		s, err := settingString(value)
		if err != nil {
			badRequest(w, "%s: %v", key, err)
			return
		}
		update[key] = s
	}

	if err := models.ValidateSettingsUpdate(update); err != nil {
		log.Printf("SettingsHandler: Validation failed: %v", err)
		badRequest(w, "%v", err)
		return
	}

	if err := h.store.SaveSettings(r.Context(), update); err != nil {
		writeError(w, "SettingsHandler", err)
		return
	}

	settings, err := h.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, "SettingsHandler", err)
		return
	}
	writeJSON(w, http.StatusOK, settings.ToMap())
}

func settingString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unsupported value %v", value)
	}
}
