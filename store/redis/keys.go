package redis

// Redis key naming conventions for soundpipe data.
// All keys are prefixed with "soundpipe:" to avoid collisions.

const keyPrefix = "soundpipe:"

// jobKey returns the key for a job record: soundpipe:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// journalKey returns the List key for a job's transition journal:
// soundpipe:journal:{id}
func journalKey(id string) string { return keyPrefix + "journal:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// activeIDsKey is the Set tracking non-terminal job IDs for rehydration.
const activeIDsKey = keyPrefix + "active_ids"

// terminalIDsKey is the Set tracking terminal job IDs for retention purge.
const terminalIDsKey = keyPrefix + "terminal_ids"
