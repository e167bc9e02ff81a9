// Package rbac manages organization-scoped roles and their feature grants.
//
// A Role is a named set of feature slugs. Holding a role inside an
// organization enables those features for the holder; roles never change
// limits. Built-in roles (empty OrganizationID) apply in every organization
// and cannot be modified or deleted through the Manager.
//
// Assignments (UserRole) bind a user to a role within one organization and
// may expire. Expired assignments stay in the store but contribute no
// grants.
//
// Two Store implementations exist:
//
//	store := rbac.NewSQLStore(db)   // roles / user_roles tables
//	store := rbac.NewMemoryStore()  // tests and single-node setups
//
// The Manager validates administrative input against the feature catalog
// and serves the resolver's grant lookups:
//
//	mgr := rbac.NewManager(store, featureCatalog)
//	grants, err := mgr.UserGrants(ctx, userID, orgID)
//
// Deleting a role that any user still holds fails with a ConflictError.
package rbac
