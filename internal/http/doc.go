// Package http exposes the portal's session core over a small local HTTP API.
//
// The router exposes the following endpoints:
//   - POST /login: signs in. Body: {"email","password"}. Response:
//     {"user":{...},"location"} where location is the role's landing route.
//     Failures answer 401 with the backend's reason, 422 with field errors,
//     409 when already signed in and 429 when the login rate is exceeded.
//   - POST /logout: ends the session. Response: {"location":"/login"}.
//   - GET /session: {"status","ready","user","navigate_to"}. navigate_to holds
//     the pending hard navigation requested by the session core (expiry,
//     maintenance, sign-out elsewhere) and is cleared once read.
//   - GET /navigate?path=/x: route gate decision {"action","location","return_to"}.
//     Answers 202 with action "loading" until boot restore has finished.
//   - POST /register: forwards a company registration to the backend.
//   - GET /healthz and GET /metrics.
//
// Request/response DTOs live alongside their handlers.
package http
