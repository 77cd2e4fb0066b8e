// Package storage is the task repository the backfill engine runs against.
//
// It currently supports:
//   - sqlite: durable backend with a uniqueness constraint on
//     (recurrence_series_id, recurrence_instance_date)
//   - memory: dependency-free backend with the same uniqueness guarantee,
//     used by tests and ephemeral runs
package storage
