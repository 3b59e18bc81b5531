package partition

import "hash/fnv"

// Count is the fixed number of logical partitions.
// Changing it remaps every key, so it is a deployment-time constant.
const Count = 256

// For returns the partition ID for a key (a vehicle ref in the ledger).
// Stable and deterministic: the same key always maps to the same partition.
// Uses FNV-32a.
func For(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % Count)
}
