// Package auth provides bearer-token authentication and scope-based
// authorization for the bridge HTTP API. Tokens are HS256 JWTs signed
// with a shared secret supplied through the environment.
package auth
