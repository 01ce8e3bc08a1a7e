package config

import (
	"hash/fnv"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// FeatureFlags toggles optional progression subsystems. A flag can be
// rolled out to a percentage of students; a student's bucket is stable.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	studentOverrides map[string]map[string]bool // studentID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Students are assigned based on hash of their ID
	RolloutPercent int
}

// Predefined feature flag names.
const (
	FeatureQuests         = "quests"           // Daily quest progress after a lesson
	FeatureAchievements   = "achievements"     // Achievement evaluation after a lesson
	FeatureLeagues        = "leagues"          // Weekly XP accounting into leagues
	FeatureCascadeLevelUp = "cascade_level_up" // Re-check the level after a level-up bonus
)

// LoadFeatureFlags builds the flags from defaults and FEATURE_* keys.
// v may be nil.
func LoadFeatureFlags(v *viper.Viper) *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		studentOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	if v != nil {
		ff.loadFrom(v)
	}

	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureQuests] = &Feature{
		Name:           FeatureQuests,
		Description:    "Advance daily quests after each lesson",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureAchievements] = &Feature{
		Name:           FeatureAchievements,
		Description:    "Evaluate achievement rules after each lesson",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureLeagues] = &Feature{
		Name:           FeatureLeagues,
		Description:    "Count awarded XP into weekly leagues",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Off by default: existing ledgers were built with one bonus per award.
	ff.features[FeatureCascadeLevelUp] = &Feature{
		Name:           FeatureCascadeLevelUp,
		Description:    "Re-check level after a level-up bonus",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// loadFrom applies overrides.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_QUESTS=false
// Example: FEATURE_ACHIEVEMENTS=50 (50% rollout)
func (ff *FeatureFlags) loadFrom(v *viper.Viper) {
	for name, feature := range ff.features {
		val := strings.TrimSpace(v.GetString(featureKey(name)))
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

// featureKey converts a feature name to its config key.
// "cascade_level_up" -> "feature.cascade_level_up" (env FEATURE_CASCADE_LEVEL_UP)
func featureKey(name string) string {
	return "feature." + name
}

// IsEnabled reports whether the feature is fully on, ignoring rollout buckets.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	return ok && feature.Enabled && feature.RolloutPercent > 0
}

// Enabled reports whether the feature is on for a student.
func (ff *FeatureFlags) Enabled(featureName, studentID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if overrides, ok := ff.studentOverrides[studentID]; ok {
		if enabled, ok := overrides[featureName]; ok {
			return enabled
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}
	if feature.RolloutPercent >= 100 {
		return true
	}
	if studentID == "" {
		return false
	}
	return isInRollout(studentID, featureName, feature.RolloutPercent)
}

// isInRollout uses consistent hashing so students stay in their bucket.
func isInRollout(studentID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(studentID))
	return int(h.Sum32()%100) < percent
}

// SetStudentOverride sets a feature override for a specific student.
func (ff *FeatureFlags) SetStudentOverride(studentID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.studentOverrides[studentID]; !ok {
		ff.studentOverrides[studentID] = make(map[string]bool)
	}
	ff.studentOverrides[studentID][featureName] = enabled
}

// ClearStudentOverrides removes all overrides for a student.
func (ff *FeatureFlags) ClearStudentOverrides(studentID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.studentOverrides, studentID)
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
