// Package handler exposes the identity service over HTTP as JSON endpoints
// for the product's UI hooks, compliance dashboards and data-export tooling.
// Session tokens travel in the X-Session-Token header; the identity error
// taxonomy maps onto HTTP status codes, and recovery redemption always
// answers 401 on failure regardless of the underlying cause.
package handler
