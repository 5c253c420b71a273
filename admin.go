package portal

import (
	"context"
	"fmt"
	"strings"
)

// ResolveAdminPrivilege reports whether the principal has a profile record
// whose administrator flag is set. Every failure degrades to false.
func ResolveAdminPrivilege(ctx context.Context, lookup ProfileLookup, principalID string, logger Logger) (granted bool) {
	if logger == nil {
		logger = defLogger{}
	}

	if lookup == nil || strings.TrimSpace(principalID) == "" {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Warn("admin privilege lookup panicked", "principal", principalID, "panic", fmt.Sprint(r))
			granted = false
		}
	}()

	profile, err := lookup.GetProfile(ctx, principalID)
	if err != nil {
		logger.Warn("admin privilege lookup failed", "principal", principalID, "error", err)
		return false
	}

	if profile == nil {
		logger.Debug("admin privilege lookup found no profile", "principal", principalID)
		return false
	}

	return profile.IsAdmin
}
