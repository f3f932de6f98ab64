package pipeline

import "errors"

// ErrSchema marks a transaction-node whose status is neither "u" nor "d": a
// programmer/protocol error rather than a transient condition, since the
// repository's status vocabulary is fixed and known in advance.
var ErrSchema = errors.New("pipeline: unknown transaction-node status")

// ErrConsistency marks a bulk upsert the search engine reported as
// partially or wholly failed.
var ErrConsistency = errors.New("pipeline: bulk upsert consistency failure")
