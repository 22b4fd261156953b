package models

// Artifact is a catalog entry. Loaded once from the catalog and never mutated.
type Artifact struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Era       string `json:"era,omitempty"`
	BaseValue int64  `json:"base_value"`
}
