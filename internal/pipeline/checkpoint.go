package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"radiopipe/internal/safeio"
)

// FormatVersion stamps every saved snapshot. Loading a snapshot written by a
// different format fails loudly instead of resuming from state this code
// cannot interpret.
const FormatVersion = 1

// ErrFormatVersion is returned when a checkpoint was written by an
// incompatible pipeline version.
var ErrFormatVersion = errors.New("pipeline: checkpoint format version mismatch")

type snapshotEnvelope struct {
	FormatVersion int       `json:"format_version"`
	SavedAt       time.Time `json:"saved_at"`
	Context       *Context  `json:"context"`
}

type resultEnvelope struct {
	FormatVersion int       `json:"format_version"`
	SavedAt       time.Time `json:"saved_at"`
	Result        *Results  `json:"result"`
}

// savedStateDir is the per-context checkpoint location.
func savedStateDir(name string) string {
	return filepath.Join(name, "saved_state")
}

func contextPath(name string, stage int) string {
	return filepath.Join(savedStateDir(name), fmt.Sprintf("context-stage%d.json", stage))
}

func resultPath(name string, stage int) string {
	return filepath.Join(savedStateDir(name), fmt.Sprintf("result-stage%d.json", stage))
}

// SaveContext writes the context snapshot for its current stage count.
func SaveContext(work *safeio.WorkDir, c *Context) error {
	env := snapshotEnvelope{
		FormatVersion: FormatVersion,
		SavedAt:       time.Now().UTC(),
		Context:       c,
	}
	raw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: encode context: %w", err)
	}
	return work.WriteFileAtomic(contextPath(c.Name, c.Stage()), raw)
}

// SaveStage writes the context/result checkpoint pair after a merge.
func SaveStage(work *safeio.WorkDir, c *Context, r *Results) error {
	if err := SaveContext(work, c); err != nil {
		return err
	}
	env := resultEnvelope{
		FormatVersion: FormatVersion,
		SavedAt:       time.Now().UTC(),
		Result:        r,
	}
	raw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: encode result: %w", err)
	}
	return work.WriteFileAtomic(resultPath(c.Name, r.Stage), raw)
}

// LoadContext restores the snapshot saved at the given stage.
func LoadContext(work *safeio.WorkDir, name string, stage int) (*Context, error) {
	raw, err := work.ReadFile(contextPath(name, stage))
	if err != nil {
		return nil, fmt.Errorf("pipeline: read checkpoint: %w", err)
	}
	var env snapshotEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("pipeline: decode checkpoint: %w", err)
	}
	if env.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: saved=%d supported=%d", ErrFormatVersion, env.FormatVersion, FormatVersion)
	}
	if env.Context == nil {
		return nil, errors.New("pipeline: checkpoint has no context")
	}
	return env.Context, nil
}

// LoadResults restores one stage's Results record. The returned Results is
// unmerged: replaying it into a fresh context is allowed.
func LoadResults(work *safeio.WorkDir, name string, stage int) (*Results, error) {
	raw, err := work.ReadFile(resultPath(name, stage))
	if err != nil {
		return nil, fmt.Errorf("pipeline: read result checkpoint: %w", err)
	}
	var env resultEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("pipeline: decode result checkpoint: %w", err)
	}
	if env.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: saved=%d supported=%d", ErrFormatVersion, env.FormatVersion, FormatVersion)
	}
	if env.Result == nil {
		return nil, errors.New("pipeline: result checkpoint is empty")
	}
	return env.Result, nil
}

var contextStageRe = regexp.MustCompile(`^context-stage(\d+)\.json$`)

// LatestStage scans saved_state for the highest checkpointed stage.
func LatestStage(work *safeio.WorkDir, name string) (int, error) {
	entries, err := work.ReadDir(savedStateDir(name))
	if err != nil {
		return 0, fmt.Errorf("pipeline: no saved state for context %s: %w", name, err)
	}
	best := -1
	for _, e := range entries {
		m := contextStageRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > best {
			best = n
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("pipeline: no checkpoints found for context %s", name)
	}
	return best, nil
}
