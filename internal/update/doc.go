// Package update resolves mods against their latest GitHub release and
// installs the matching asset into a group directory.
//
// This package handles:
//   - Validating repository links and deriving the releases/latest endpoint
//   - Picking the first release asset matching a mod's prefix/suffix pattern
//   - Downloading the asset and replacing the previously installed file
//   - Walking a group's mods in order, turning per-mod failures into warnings
//
// Example usage:
//
//	runner := update.NewRunner(update.NewResolver(), update.NewSyncer(), log)
//	report, err := runner.UpdateGroup(ctx, group)
//	if err != nil {
//	    // group precondition failed; no mods were processed
//	}
package update
