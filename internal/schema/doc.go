// Package schema validates persisted graph entities against an embedded CUE
// schema.
//
// Every violation carries a JSON-pointer instance path such as
// "/components/orders:checkout:api:place-order/httpMethod", which is what a
// store reports when its own state no longer validates.
package schema
