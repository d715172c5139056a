// Package api contains the HTTP handlers, request/response models, and
// error mapping for the public REST surface. Handlers stay thin: they
// decode and validate requests, call into the service layer, and translate
// service errors to sanitized HTTP responses.
package api
