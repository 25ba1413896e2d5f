// Package permission answers role checks against a validated claim set.
package permission

import (
	"slices"

	"github.com/ggoodman/keycloak-bearer-go/claims"
	"github.com/ggoodman/keycloak-bearer-go/config"
)

// ViewProfile is the role Keycloak grants for reading one's own account.
const ViewProfile = "view-profile"

// Evaluator looks permissions up at a fixed dotted claim path.
type Evaluator struct {
	path []string
}

// New returns an Evaluator for a dotted path such as
// "resource_access.account.roles". An empty path selects the default.
func New(dottedPath string) *Evaluator {
	if dottedPath == "" {
		dottedPath = config.DefaultPermissionPath
	}
	return &Evaluator{path: claims.SplitPath(dottedPath)}
}

// Permissions returns the list found at the path. Missing segments and
// non-list values yield nil.
func (e *Evaluator) Permissions(set claims.Set) []string {
	if len(set) == 0 {
		return nil
	}
	return set.Strings(e.path)
}

// HasPermission reports whether name is listed at the path of a non-empty
// claim set.
func (e *Evaluator) HasPermission(set claims.Set, name string) bool {
	return slices.Contains(e.Permissions(set), name)
}

// HasObjectPermission checks name exactly like HasPermission. Permissions are
// not scoped to objects.
func (e *Evaluator) HasObjectPermission(set claims.Set, name string, _ any) bool {
	return e.HasPermission(set, name)
}
