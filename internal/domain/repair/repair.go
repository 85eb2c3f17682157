package repair

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/reglet-dev/exthost/internal/domain/values"
	"github.com/spf13/afero"
)

var (
	// ErrNoRepair means the pattern was recognised but the repair could not be produced.
	ErrNoRepair = errors.New("repair not possible")
	// ErrUnrecognized means the failure matches no known pattern.
	ErrUnrecognized = errors.New("unrecognized load failure")
	// ErrModeOff means repairs are disabled.
	ErrModeOff = errors.New("repairs disabled")
	// ErrSuggestOnly means the defect was detected but the mode only suggests.
	ErrSuggestOnly = errors.New("repair suggested but not applied")
	// ErrNotAllowed means the pattern's risk exceeds what the mode permits.
	ErrNotAllowed = errors.New("repair not allowed by mode")
)

// Context is everything a repair may look at. FS is a read-only snapshot.
type Context struct {
	FS        afero.Fs
	Root      string
	Importer  string
	Specifier string
	// Source is the importer's source text.
	Source string
}

// Action is the result of a repair.
type Action struct {
	Pattern Pattern
	// Resolved is the path the reference now resolves to. For synthesised
	// content it is a virtual path under the extension root.
	Resolved string
	// Content is synthesised module or asset text.
	Content []byte
	// NoOp is set when nothing needed repairing.
	NoOp        bool
	Description string
}

// Repair produces the action for a pattern. It must only be called for
// patterns the active mode allows; Engine.Attempt enforces that.
func Repair(p Pattern, rc Context) (Action, error) {
	switch p {
	case DistToSrc:
		return repairDistToSrc(rc)
	case MissingAsset:
		return repairMissingAsset(rc)
	case MonorepoEscape:
		return repairMonorepoEscape(rc)
	case MissingNpmDep:
		return repairMissingNpmDep(rc)
	case ExportShape:
		return repairExportShape(rc)
	default:
		return Action{}, fmt.Errorf("%w: %s is applied by the manifest loader", ErrNoRepair, p)
	}
}

func repairMissingAsset(rc Context) (Action, error) {
	path := ResolveSpecifier(rc.Importer, rc.Specifier)
	content, ok := FallbackContent(path)
	if !ok {
		return Action{}, fmt.Errorf("%w: no fallback for %s assets", ErrNoRepair, filepath.Ext(path))
	}
	return Action{
		Pattern:     MissingAsset,
		Resolved:    path,
		Content:     content,
		Description: fmt.Sprintf("served fallback content for %s", relTo(rc.Root, path)),
	}, nil
}

func repairMonorepoEscape(rc Context) (Action, error) {
	names := ExtractImportNames(rc.Source, rc.Specifier)
	if len(names) == 0 {
		return Action{}, fmt.Errorf("%w: no named imports from %s", ErrNoRepair, rc.Specifier)
	}
	return Action{
		Pattern:     MonorepoEscape,
		Resolved:    stubPath(rc.Root, rc.Specifier),
		Content:     []byte(GenerateStub(rc.Specifier, names)),
		Description: fmt.Sprintf("generated stub for %s exporting %s", rc.Specifier, strings.Join(names, ", ")),
	}, nil
}

func repairMissingNpmDep(rc Context) (Action, error) {
	pkg := PackageName(rc.Specifier)
	names := ExtractImportNames(rc.Source, rc.Specifier)
	return Action{
		Pattern:     MissingNpmDep,
		Resolved:    stubPath(rc.Root, "node_modules/"+rc.Specifier),
		Content:     []byte(GeneratePackageStub(rc.Specifier, names)),
		Description: fmt.Sprintf("generated stub package for %s (%d named exports)", pkg, len(names)),
	}, nil
}

func repairExportShape(rc Context) (Action, error) {
	shape := DetectShape(rc.Source)
	resolved := stubPath(rc.Root, "entry/"+filepath.Base(rc.Importer))
	entry, err := filepath.Rel(filepath.Dir(resolved), rc.Importer)
	if err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrNoRepair, err)
	}
	content, err := CanonicalEntry(filepath.ToSlash(entry), shape)
	if err != nil {
		return Action{}, err
	}
	return Action{
		Pattern:     ExportShape,
		Resolved:    resolved,
		Content:     []byte(content),
		Description: fmt.Sprintf("normalised %s export to a default activate function", shape),
	}, nil
}

// stubPath is the deterministic virtual location of synthesised modules.
func stubPath(root, spec string) string {
	clean := strings.NewReplacer("../", "", "./", "", "@", "").Replace(filepath.ToSlash(spec))
	clean = strings.Trim(clean, "/")
	if filepath.Ext(clean) == "" {
		clean += ".mjs"
	}
	return filepath.Join(root, ".exthost", "stubs", filepath.FromSlash(clean))
}

// Decision is what Engine.Attempt concluded about one failure.
type Decision struct {
	Pattern  Pattern
	Detected bool
	Action   Action
	// Event is set whenever Repair was invoked, successful or not.
	Event *Event
}

// Engine applies repairs under a mode.
type Engine struct {
	Mode Mode
}

// NewEngine creates an engine for mode.
func NewEngine(mode Mode) *Engine {
	return &Engine{Mode: mode}
}

// Attempt classifies a failure and, if the mode allows it, repairs it.
// Repair is never invoked for a disallowed pattern. The returned error wraps
// one of the package sentinels and is nil only when the action can be used.
func (e *Engine) Attempt(ext values.ExtensionID, f Failure, rc Context, now time.Time) (Decision, error) {
	if !e.Mode.IsActive() {
		return Decision{}, ErrModeOff
	}

	p, ok := Classify(f)
	if !ok {
		return Decision{}, ErrUnrecognized
	}
	d := Decision{Pattern: p, Detected: true}

	if !e.Mode.ShouldApply() {
		return d, fmt.Errorf("%w: %s", ErrSuggestOnly, p)
	}
	if !p.AllowedBy(e.Mode) {
		return d, fmt.Errorf("%w: %s is %s, mode is %s", ErrNotAllowed, p, p.Risk(), e.Mode)
	}

	action, err := Repair(p, rc)
	if err != nil {
		ev := NewEvent(ext, p, f.Message, err.Error(), false, now)
		d.Event = &ev
		return d, err
	}

	ev := NewEvent(ext, p, f.Message, action.Description, true, now)
	d.Action = action
	d.Event = &ev
	return d, nil
}
