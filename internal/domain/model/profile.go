package model

// ServiceTier is a user's subscription tier. The tier decides whether
// completed results are demoted to the cold vault.
type ServiceTier string

const (
	// TierFree users have completed results archived to the cold vault.
	TierFree ServiceTier = "free_user"
	// TierPremium users keep completed results in hot storage.
	TierPremium ServiceTier = "premium_user"
)

// Valid returns true if the tier is one of the known values.
func (t ServiceTier) Valid() bool {
	return t == TierFree || t == TierPremium
}

// Profile is the typed user record returned by the accounts directory.
type Profile struct {
	Identity    string      `json:"identity"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Affiliation string      `json:"affiliation"`
	Tier        ServiceTier `json:"tier"`
}
