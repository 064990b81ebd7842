package model

// RetrievalTier is the requested urgency class for a cold-vault retrieval.
type RetrievalTier string

const (
	// TierExpedited is attempted first for every retrieval.
	TierExpedited RetrievalTier = "Expedited"
	// TierStandard is the single fallback when expedited capacity is exhausted.
	TierStandard RetrievalTier = "Standard"
)

// Fallback returns the tier to retry at after a capacity failure. Standard is
// assumed always admissible, so it has no further fallback.
func (t RetrievalTier) Fallback() (RetrievalTier, bool) {
	if t == TierExpedited {
		return TierStandard, true
	}
	return "", false
}

// RetrievalJob is an in-flight request to thaw one archive from the vault.
// Completion is asynchronous and delivered via the thaw topic; re-hydrating
// the hot key happens outside this pipeline.
type RetrievalJob struct {
	ID        string        `json:"retrieval_id"`
	ArchiveID string        `json:"archive_id"`
	Tier      RetrievalTier `json:"tier"`
}
