// Package domain contains the core entities of the family image pool: pool
// tasks and their lease state machine, processing audit records, extracted
// readings and the errors the lease protocol reports. It is independent of
// storage and transport.
package domain
