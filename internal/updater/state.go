package updater

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// runtimeState is the executor's durable cross-restart state, persisted as
// JSON via temp-file-then-rename so a crash mid-write never leaves a
// truncated file behind.
type runtimeState struct {
	ActiveColor      string     `json:"active_color"`
	LastGoodTag      string     `json:"last_good_tag"`
	Paused           bool       `json:"paused"`
	PauseReason      string     `json:"pause_reason"`
	LastCheckedAt    *time.Time `json:"last_checked_at"`
	LastAttemptedTag *string    `json:"last_attempted_tag"`
	LastSuccessAt    *time.Time `json:"last_success_at"`
	LastFailureAt    *time.Time `json:"last_failure_at"`
	ResumedAt        *time.Time `json:"resumed_at"`
}

func defaultRuntimeState() runtimeState {
	return runtimeState{ActiveColor: ColorBlue}
}

func loadRuntimeState(path string, logger *slog.Logger) runtimeState {
	def := defaultRuntimeState()
	raw, err := os.ReadFile(path)
	if err != nil {
		return def
	}
	var loaded runtimeState
	if err := json.Unmarshal(raw, &loaded); err != nil {
		logger.Warn("updater state load failed, using defaults", "path", path, "error", err)
		return def
	}
	if loaded.ActiveColor != ColorBlue && loaded.ActiveColor != ColorGreen {
		loaded.ActiveColor = ColorBlue
	}
	return loaded
}

func saveRuntimeState(path string, state runtimeState, logger *slog.Logger) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		logger.Error("updater state marshal failed", "error", err)
		return
	}
	if err := writeFileAtomic(path, data); err != nil {
		logger.Error("updater state save failed", "path", path, "error", err)
	}
}

// writeFileAtomic writes data to a sibling .tmp file then renames it over
// path, so readers never observe a partial write.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// traefikDynamicConfig is the subset of Traefik's file-provider schema the
// updater writes: two routers and four backing services, one pair per
// blue/green color, with the routers pointed at whichever color is active.
type traefikDynamicConfig struct {
	HTTP traefikHTTP `yaml:"http"`
}

type traefikHTTP struct {
	Routers  map[string]traefikRouter  `yaml:"routers"`
	Services map[string]traefikService `yaml:"services"`
}

type traefikRouter struct {
	EntryPoints []string `yaml:"entryPoints"`
	Rule        string   `yaml:"rule"`
	Service     string   `yaml:"service"`
}

type traefikService struct {
	LoadBalancer traefikLoadBalancer `yaml:"loadBalancer"`
}

type traefikLoadBalancer struct {
	Servers []traefikServer `yaml:"servers"`
}

type traefikServer struct {
	URL string `yaml:"url"`
}

func buildTraefikConfig(activeColor string) ([]byte, error) {
	cfg := traefikDynamicConfig{
		HTTP: traefikHTTP{
			Routers: map[string]traefikRouter{
				"skills": {EntryPoints: []string{"skills"}, Rule: "PathPrefix(`/`)", Service: "skills-" + activeColor},
				"api":    {EntryPoints: []string{"api"}, Rule: "PathPrefix(`/`)", Service: "api-" + activeColor},
			},
			Services: map[string]traefikService{
				"skills-blue":  {LoadBalancer: traefikLoadBalancer{Servers: []traefikServer{{URL: "http://" + skillsServices[ColorBlue] + ":8080"}}}},
				"skills-green": {LoadBalancer: traefikLoadBalancer{Servers: []traefikServer{{URL: "http://" + skillsServices[ColorGreen] + ":8080"}}}},
				"api-blue":     {LoadBalancer: traefikLoadBalancer{Servers: []traefikServer{{URL: "http://" + apiServices[ColorBlue] + ":8443"}}}},
				"api-green":    {LoadBalancer: traefikLoadBalancer{Servers: []traefikServer{{URL: "http://" + apiServices[ColorGreen] + ":8443"}}}},
			},
		},
	}
	return yaml.Marshal(cfg)
}
