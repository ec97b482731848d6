package dto

type PlanChangeRequest struct {
	Tier string `json:"tier"`
}

type FeatureAccessResponse struct {
	Feature string `json:"feature"`
	Enabled bool   `json:"enabled"`
}
