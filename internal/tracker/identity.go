package tracker

import "github.com/hashicorp/go-hclog"

// ViewerIDKey is the identity store key holding the viewer id.
const ViewerIDKey = "viewerId"

// resolveViewerID loads the persisted viewer id, creating it when absent.
// A store that fails yields a session-only id.
func resolveViewerID(store IdentityStore, newID func() string, logger hclog.Logger) string {
	if store == nil {
		return newID()
	}

	if creator, ok := store.(IdentityCreator); ok {
		id, err := creator.GetOrCreate(ViewerIDKey, newID)
		switch {
		case err == nil:
			return id
		case id != "":
			logger.Debug("could not persist viewer id", "error", err)
			return id
		default:
			logger.Debug("identity store unavailable, using session-only viewer id", "error", err)
			return newID()
		}
	}

	id, ok, err := store.Get(ViewerIDKey)
	if err != nil {
		logger.Debug("identity store unavailable, using session-only viewer id", "error", err)
		return newID()
	}
	if ok && id != "" {
		return id
	}

	id = newID()
	if err := store.Set(ViewerIDKey, id); err != nil {
		logger.Debug("could not persist viewer id", "error", err)
	}
	return id
}
