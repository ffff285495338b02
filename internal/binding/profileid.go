package binding

import (
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

// documentNameRE is the document-name grammar spec.md §4.12 requires of
// both the scope and the name component of a ProfileID.
var documentNameRE = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ProfileID is a parsed `scope/name[@major.minor.patch[-label]]` reference,
// grounded on the teacher's own semver handling in pkg/versioning/version.go
// (adapted here onto Masterminds/semver/v3 instead of the teacher's
// hand-rolled comparator).
type ProfileID struct {
	Scope   string // "" when the id carries no scope
	Name    string
	Version *semver.Version // nil when the id carries no version
}

// ParseProfileID parses a ProfileID, validating the document-name grammar
// and that a given version is a full major.minor.patch triple.
func ParseProfileID(id string) (ProfileID, error) {
	rest := id
	scope := ""
	if i := indexByte(rest, '/'); i >= 0 {
		scope, rest = rest[:i], rest[i+1:]
	}

	name := rest
	versionStr := ""
	if i := indexByte(rest, '@'); i >= 0 {
		name, versionStr = rest[:i], rest[i+1:]
	}

	if scope != "" && !documentNameRE.MatchString(scope) {
		return ProfileID{}, sdkerrors.NewUnexpectedError("invalid profile scope %q", scope)
	}
	if !documentNameRE.MatchString(name) {
		return ProfileID{}, sdkerrors.NewUnexpectedError("invalid profile name %q", name)
	}

	pid := ProfileID{Scope: scope, Name: name}
	if versionStr == "" {
		return pid, nil
	}

	v, err := semver.StrictNewVersion(versionStr)
	if err != nil {
		return ProfileID{}, sdkerrors.NewUnexpectedError("invalid profile version %q: %s", versionStr, err)
	}
	pid.Version = v
	return pid, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// String renders the id back to its `scope/name[@version]` form.
func (p ProfileID) String() string {
	s := p.Name
	if p.Scope != "" {
		s = p.Scope + "/" + s
	}
	if p.Version != nil {
		s += "@" + p.Version.String()
	}
	return s
}

// Satisfies reports whether p's version (if any) satisfies constraint,
// used when a super-document pins a looser range than the profile id
// asked for.
func (p ProfileID) Satisfies(constraint string) (bool, error) {
	if p.Version == nil {
		return true, nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, sdkerrors.NewUnexpectedError("invalid version constraint %q: %s", constraint, err)
	}
	return c.Check(p.Version), nil
}

// GridPath is the registry/CDN path spec.md §4.12 step 1 falls back to
// when a string profile id resolves against neither an already-parsed AST
// nor a super-document file entry: `grid/<id>@<version>.supr[.ast.json]`.
func (p ProfileID) GridPath(ast bool) string {
	suffix := ".supr"
	if ast {
		suffix = ".supr.ast.json"
	}
	return "grid/" + p.String() + suffix
}
