package metastore

import (
	"context"

	"metalake/internal/db/repository"
	"metalake/internal/domain"
)

// resolvePath verifies that a caller-supplied ancestor chain is still valid:
// every element exists and is active, the first element sits directly under
// the root, and each subsequent element is a child of the previous one.
// Returns false when any link is broken.
//
// Versions are deliberately not compared; a path element that was modified
// since the caller resolved it is still a valid parent as long as it exists.
func resolvePath(ctx context.Context, sess *repository.Session, catalogPath []domain.EntityCore) (bool, error) {
	prevID := domain.RootEntityID
	for i, core := range catalogPath {
		e, err := sess.LookupEntity(ctx, core.CatalogID, core.ID, core.TypeCode)
		if err != nil {
			return false, err
		}
		if e == nil {
			return false, nil
		}
		if i == 0 {
			if e.ParentID != domain.RootEntityID {
				return false, nil
			}
		} else if e.ParentID != prevID {
			return false, nil
		}
		prevID = e.ID
	}
	return true, nil
}

// catalogIDOrZero returns the catalog id entities under this path belong to:
// the id of the leading catalog, or zero for top-level paths.
func catalogIDOrZero(catalogPath []domain.EntityCore) int64 {
	if len(catalogPath) == 0 {
		return domain.NullCatalogID
	}
	return catalogPath[0].ID
}

// pathParentID returns the id of the immediate parent named by the path: the
// last element, or the root for an empty path.
func pathParentID(catalogPath []domain.EntityCore) int64 {
	if len(catalogPath) == 0 {
		return domain.RootEntityID
	}
	return catalogPath[len(catalogPath)-1].ID
}
