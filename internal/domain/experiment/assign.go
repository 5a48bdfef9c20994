package experiment

import "hash/fnv"

// AssignVariant maps a job ID to a variant for the lifetime of a running
// experiment. The mapping is a stable hash, not a random draw: a retried or
// re-evaluated job must land on the same variant every time, otherwise the
// samples it contributes are not independent and the significance test is
// invalid.
func AssignVariant(jobID string) VariantID {
	h := fnv.New64a()
	_, _ = h.Write([]byte(jobID))
	if h.Sum64()%2 == 0 {
		return VariantA
	}
	return VariantB
}
