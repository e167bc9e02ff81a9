// Package orgs is the identity directory the entitlement engine consults:
// which users and organizations exist, which plan each user is on, and who
// belongs to an organization.
//
// The resolver uses GetUser and GetOrganization to reject unknown ids, and
// the usage tracker uses ListMemberIDs to reset every counter of an
// organization at the end of a billing cycle. Identity acquisition and
// sign-in live outside this package.
package orgs
