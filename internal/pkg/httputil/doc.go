// Package httputil provides shared HTTP response/request helpers.
//
// Handlers use these instead of writing raw http.ResponseWriter calls, so
// every endpoint returns the same JSON error shape and logs failures the
// same way.
package httputil
