// Package entitlements resolves what a user may do inside an organization.
//
// Engine reads five sources (directory, feature and plan catalogs, role
// grants, overrides, usage) and folds them into a PermissionMap. Precedence
// is the order of the layer list, lowest first:
//
//	plan -> role -> organization override -> user override
//
// Each layer can only assign the fields it knows about: plans set both the
// enabled flag and the limit, roles only enable, feature_enable and
// feature_disable overrides set the flag and limit_increase overrides set
// the limit. Inside one layer the assignment with the latest createdAt wins.
//
// Overrides that are expired at resolution time never contribute, even if a
// source returns them. References to features missing from the catalog are
// skipped with a warning.
//
// MemoResolver adds an expiring LRU in front of any Resolver for servers
// that answer many requests for the same user.
package entitlements
