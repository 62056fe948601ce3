package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles. Rollout is per classroom, so every
// monitor of one classroom sees the same features.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// classroomOverrides force a feature on or off for one classroom.
	classroomOverrides map[string]map[string]bool

	now func() time.Time
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Classrooms are assigned based on a hash of their ID
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	ClassroomID string
	IsAdmin     bool
}

// Predefined feature flag names.
const (
	// === Engine ===
	FeatureRosterAutoObserve = "engine.roster_auto_observe" // Observe every registered headset

	// === Interfaces ===
	FeatureRealtimeDashboard = "realtime.dashboard" // /ws event stream
	FeatureLogIngestion      = "ingest.http"        // POST /api/v1/logs for routers

	// === Notifications ===
	FeatureHelpAnnouncements = "notify.help_announcements" // Spoken "is requesting help"

	// === Infrastructure ===
	FeatureIdentityCache     = "cache.student_identity" // Redis in front of address lookups
	FeatureDistributedEvents = "events.redis"           // Share engine events across monitors
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:           make(map[string]*Feature),
		classroomOverrides: make(map[string]map[string]bool),
		now:                time.Now,
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	defaults := []Feature{
		{Name: FeatureRosterAutoObserve, Description: "Observe every registered headset at startup and on refresh", Enabled: true},
		{Name: FeatureRealtimeDashboard, Description: "Stream engine events to dashboards over websocket", Enabled: true},
		{Name: FeatureLogIngestion, Description: "Accept router log uploads over HTTP", Enabled: true},
		{Name: FeatureHelpAnnouncements, Description: "Announce raised hands to assistive technology", Enabled: true},
		{Name: FeatureIdentityCache, Description: "Cache address to student lookups in Redis", Enabled: true},
		{Name: FeatureDistributedEvents, Description: "Fan engine events out over Redis pub/sub", Enabled: false},
	}

	for _, f := range defaults {
		if f.Enabled {
			f.RolloutPercent = 100
		}
		ff.features[f.Name] = &f
	}
}

// loadFromEnvironment loads feature overrides from environment variables.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_EVENTS_REDIS=true
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := strings.TrimSpace(os.Getenv(featureNameToEnvKey(name)))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "engine.roster_auto_observe" -> "FEATURE_ENGINE_ROSTER_AUTO_OBSERVE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.ClassroomID != "" {
		if overrides, ok := ff.classroomOverrides[ctx.ClassroomID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	if ctx != nil && ctx.IsAdmin {
		return true
	}

	if !feature.Enabled {
		return false
	}

	now := ff.now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.ClassroomID != "" {
		return inRollout(ctx.ClassroomID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// inRollout determines if a classroom is in the rollout percentage.
// Uses consistent hashing so classrooms stay in their bucket.
func inRollout(classroomID, featureName string, percent int) bool {
	h := fnv.New32a()
	_, _ = h.Write([]byte(featureName))
	_, _ = h.Write([]byte(classroomID))
	return int(h.Sum32()%100) < percent
}

// SetClassroomOverride forces a feature for one classroom.
func (ff *FeatureFlags) SetClassroomOverride(classroomID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.classroomOverrides[classroomID]; !ok {
		ff.classroomOverrides[classroomID] = make(map[string]bool)
	}
	ff.classroomOverrides[classroomID][featureName] = enabled
}

// ClearClassroomOverrides removes all overrides for a classroom.
func (ff *FeatureFlags) ClearClassroomOverrides(classroomID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.classroomOverrides, classroomID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
