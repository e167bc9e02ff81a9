// Package api exposes the entitlement engine over HTTP.
//
// Routes are registered under /v1 by one handler group per domain:
//
//   - Permissions: resolved PermissionMap of a user in an organization,
//     and single feature checks
//   - Overrides: create, list, get, update, delete and expired cleanup
//   - Usage: record, read and reset per-user counters, bulk reset
//   - Roles: role CRUD plus assignment to users per organization
//   - Directory: organizations, users, plan assignment and memberships
//   - Catalog: the loaded features and plans
//
// Errors are mapped by httputil.StatusFor: validation 400, not found 404,
// conflict 409, contention 503.
//
//	server := api.NewServer(api.Config{
//		Resolver:  memo,
//		Overrides: overrideService,
//		Usage:     tracker,
//		Roles:     roleManager,
//		Directory: directory,
//		Features:  featureCatalog,
//		Plans:     planCatalog,
//		Logger:    logger,
//		Metrics:   metrics,
//	})
//	http.ListenAndServe(":8080", server)
package api
