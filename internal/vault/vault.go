// Package vault loads exercise content from disk. Each exercise lives in its
// own directory containing exercise.json, theme.json and phases.json, plus an
// optional logo/ directory of image assets.
package vault

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pitchforge/engine/internal/domain"
)

var logoExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".svg":  true,
	".webp": true,
}

// Vault is the content loaded from one vault directory.
type Vault struct {
	root      string
	exercises []domain.Exercise
	themes    []domain.Theme
	phases    map[string]map[int]domain.PhaseDef
}

// Load scans root for exercise directories. Directories with a broken or
// missing exercise.json are skipped; Validate reports them.
func Load(root string) (*Vault, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read vault root %s: %w", root, err)
	}

	v := &Vault{root: root, phases: make(map[string]map[int]domain.PhaseDef)}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		dir := filepath.Join(root, id)

		var exercise domain.Exercise
		if err := readJSON(filepath.Join(dir, "exercise.json"), &exercise); err != nil {
			continue
		}
		exercise.ID = id
		exercise.Logos = discoverLogos(dir, id)
		v.exercises = append(v.exercises, exercise)

		var theme domain.Theme
		if err := readJSON(filepath.Join(dir, "theme.json"), &theme); err == nil {
			if theme.ID == "" {
				theme.ID = id + "_theme"
			}
			v.themes = append(v.themes, theme)
		}

		if phases, err := loadPhases(filepath.Join(dir, "phases.json")); err == nil {
			v.phases[id] = phases
		}
	}

	sort.Slice(v.exercises, func(i, j int) bool { return v.exercises[i].ID < v.exercises[j].ID })
	return v, nil
}

// Validate checks every exercise directory for the required files and fields.
// It returns one error per problem so startup can log them all.
func (v *Vault) Validate() []error {
	var errs []error

	entries, err := os.ReadDir(v.root)
	if err != nil {
		return []error{fmt.Errorf("vault root not readable: %w", err)}
	}

	dirCount := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dirCount++
		id := entry.Name()
		dir := filepath.Join(v.root, id)

		var exercise domain.Exercise
		switch err := readJSON(filepath.Join(dir, "exercise.json"), &exercise); {
		case err != nil:
			errs = append(errs, fmt.Errorf("vault/%s: %w", id, err))
		case exercise.Title == "":
			errs = append(errs, fmt.Errorf("vault/%s/exercise.json: missing title", id))
		}

		var theme domain.Theme
		switch err := readJSON(filepath.Join(dir, "theme.json"), &theme); {
		case err != nil:
			errs = append(errs, fmt.Errorf("vault/%s: %w", id, err))
		case len(theme.Colors) == 0:
			errs = append(errs, fmt.Errorf("vault/%s/theme.json: missing colors", id))
		}

		phases, err := loadPhases(filepath.Join(dir, "phases.json"))
		if err != nil {
			errs = append(errs, fmt.Errorf("vault/%s: %w", id, err))
			continue
		}
		if len(phases) == 0 {
			errs = append(errs, fmt.Errorf("vault/%s/phases.json: must define at least one phase", id))
		}
		for num, phase := range phases {
			if phase.Name == "" {
				errs = append(errs, fmt.Errorf("vault/%s/phases.json: phase %d missing name", id, num))
			}
			if len(phase.Questions) == 0 {
				errs = append(errs, fmt.Errorf("vault/%s/phases.json: phase %d has no questions", id, num))
			}
		}
	}

	if dirCount == 0 {
		errs = append(errs, fmt.Errorf("no exercise directories found in %s", v.root))
	}
	return errs
}

// Exercises returns every loaded exercise, ordered by id.
func (v *Vault) Exercises() []domain.Exercise {
	out := make([]domain.Exercise, len(v.exercises))
	copy(out, v.exercises)
	return out
}

// Themes returns every loaded theme.
func (v *Vault) Themes() []domain.Theme {
	out := make([]domain.Theme, len(v.themes))
	copy(out, v.themes)
	return out
}

// ExerciseByID looks up one exercise, reporting whether it exists.
func (v *Vault) ExerciseByID(id string) (domain.Exercise, bool) {
	for _, e := range v.exercises {
		if e.ID == id {
			return e, true
		}
	}
	return domain.Exercise{}, false
}

// ThemeByID looks up one theme, reporting whether it exists.
func (v *Vault) ThemeByID(id string) (domain.Theme, bool) {
	for _, t := range v.themes {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Theme{}, false
}

// PhasesFor returns the phase definitions for an exercise, falling back to
// the first exercise's phases when the requested one carries none.
func (v *Vault) PhasesFor(exerciseID string) map[int]domain.PhaseDef {
	if phases, ok := v.phases[exerciseID]; ok && len(phases) > 0 {
		return phases
	}
	if len(v.exercises) > 0 {
		if phases, ok := v.phases[v.exercises[0].ID]; ok {
			return phases
		}
	}
	return map[int]domain.PhaseDef{}
}

// PhaseCount returns how many phases the exercise defines.
func (v *Vault) PhaseCount(exerciseID string) int {
	return len(v.PhasesFor(exerciseID))
}

// PickAssignment chooses a random exercise and theme for a new team. Callers
// persist the result so the assignment stays stable across sessions.
func (v *Vault) PickAssignment(rng *rand.Rand) (domain.Exercise, domain.Theme, error) {
	if len(v.exercises) == 0 {
		return domain.Exercise{}, domain.Theme{}, fmt.Errorf("vault holds no exercises")
	}
	exercise := v.exercises[rng.Intn(len(v.exercises))]

	theme, ok := v.ThemeByID(exercise.ID + "_theme")
	if !ok && len(v.themes) > 0 {
		theme = v.themes[rng.Intn(len(v.themes))]
	}
	return exercise, theme, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func loadPhases(path string) (map[int]domain.PhaseDef, error) {
	var raw map[string]domain.PhaseDef
	if err := readJSON(path, &raw); err != nil {
		return nil, err
	}

	phases := make(map[int]domain.PhaseDef, len(raw))
	for key, def := range raw {
		num, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		if def.ID == "" {
			def.ID = key
		}
		phases[num] = def
	}
	return phases, nil
}

func discoverLogos(dir, id string) []string {
	logoDir := filepath.Join(dir, "logo")
	entries, err := os.ReadDir(logoDir)
	if err != nil {
		return nil
	}
	var logos []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if logoExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			logos = append(logos, "/vault/"+id+"/logo/"+entry.Name())
		}
	}
	return logos
}
