package weighting

// Attribute describes one output variable for the persistence stage.
type Attribute struct {
	Units       string `json:"units"`
	LongName    string `json:"long_name"`
	Description string `json:"description,omitempty"`
}

// Attributes lists the metadata attached to every stored result.
var Attributes = map[string]Attribute{
	"model_ensemble": {
		Units:       "1",
		LongName:    "Unique Model Identifier",
		Description: "Underscore-separated model identifier: model_ensemble_project",
	},
	"perfect_model_ensemble": {
		Units:       "1",
		LongName:    "Unique Perfect Model Identifier",
		Description: "Underscore-separated perfect model identifier: model_ensemble_project",
	},
	"weights": {
		Units:       "1",
		LongName:    "Normalized Model Weights",
		Description: "(weights_q/weights_i) / sum(weights_q/weights_i)",
	},
	"weights_q": {Units: "1", LongName: "Quality Weights (not Normalized)"},
	"weights_i": {
		Units:       "1",
		LongName:    "Independence Weights (not Normalized)",
		Description: "Higher values mean more dependence!",
	},
	"delta_q": {Units: "1", LongName: "Observational Distance Metric"},
	"delta_i": {Units: "1", LongName: "Model Distance Metric"},
	"sigma_q": {Units: "1", LongName: "Observational Distance Shape Parameter"},
	"sigma_i": {Units: "1", LongName: "Model Distance Shape Parameter"},
}
