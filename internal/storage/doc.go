// Package storage persists reminder records.
//
// It currently supports:
//   - memory (tests, local dev)
//   - sqlite (single-node deployments)
//   - dynamo (DynamoDB table with an owner GSI)
//
// All drivers implement the same optimistic conditional-update contract.
package storage
