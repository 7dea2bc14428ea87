// Package service groups the application use cases.
//
// Subpackages:
//
//   - pool: the family image pool, covering admission, the claim/lease
//     protocol, processing and queries.
//   - auth: verification of the bearer tokens that identify members.
//
// Services receive their stores and collaborators through constructor
// injection and depend only on the interfaces in internal/store, never on a
// concrete infrastructure implementation.
package service
