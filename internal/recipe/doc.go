// Package recipe defines the recipe records exchanged between the local
// mutation queue, the remote recipe service and the unified view.
//
// This package contains type definitions plus payload validation and
// content fingerprints. Every other internal package imports recipe;
// recipe imports nothing internal.
//
// Key design constraints:
//   - Mutation.LocalID is the primary key of a queued entry. Name is a
//     display and lookup field and may collide between entries.
//   - All JSON tags use the camelCase names of the remote recipe API
//     (including "_id" for server-assigned ids).
//   - Payloads are validated against an embedded CUE schema before they
//     are queued, so a malformed recipe never reaches the sync loop.
package recipe
